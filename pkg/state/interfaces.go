package state

import "context"

// Store persists per-conversation and per-user state between turns. Missing keys load as zero values.
type Store interface {
	LoadFlow(ctx context.Context, conversationKey string) (ConversationFlow, error)
	SaveFlow(ctx context.Context, conversationKey string, flow ConversationFlow) error
	LoadDialog(ctx context.Context, conversationKey string) (DialogState, error)
	SaveDialog(ctx context.Context, conversationKey string, dialog DialogState) error
	LoadProfile(ctx context.Context, userKey string) (UserProfile, error)
	SaveProfile(ctx context.Context, userKey string, profile UserProfile) error
}
