package process

import (
	"context"

	"github.com/quarrylabs/quarry/plugin"
	"github.com/quarrylabs/quarry/store"
)

// Action is a clean-stage policy applied to entities no longer present
// in the feed, other than plain deletion.
type Action interface {
	// Label names the action in user-facing clean messages.
	Label() string

	// Execute applies the action to a loaded entity.
	Execute(ctx context.Context, entity *store.Entity) error
}

// NewActionRegistry creates a registry with the built-in actions
// registered.
func NewActionRegistry(entities store.Store) *plugin.Registry[Action] {
	registry := plugin.NewRegistry[Action]("action")
	registry.Register(UnpublishActionID, NewUnpublishAction(entities))
	return registry
}

// UnpublishActionID registers the unpublish action.
const UnpublishActionID = "unpublish"

// UnpublishAction marks an entity unpublished instead of deleting it
// when its item disappears from the feed.
type UnpublishAction struct {
	entities store.Store
}

// NewUnpublishAction creates an unpublish action.
func NewUnpublishAction(entities store.Store) *UnpublishAction {
	return &UnpublishAction{entities: entities}
}

// Label implements Action.
func (a *UnpublishAction) Label() string { return "Unpublish" }

// Execute implements Action.
func (a *UnpublishAction) Execute(ctx context.Context, entity *store.Entity) error {
	entity.Set("published", false)
	return a.entities.Save(ctx, entity)
}
