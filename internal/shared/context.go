package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the resolved actor token in context.
func ContextWithActor(ctx context.Context, token *ActorToken) context.Context {
	return context.WithValue(ctx, actorContextKey{}, token)
}

// ActorFromContext extracts the actor token from context. Anonymous requests
// yield nil.
func ActorFromContext(ctx context.Context) *ActorToken {
	token, _ := ctx.Value(actorContextKey{}).(*ActorToken)
	return token
}
