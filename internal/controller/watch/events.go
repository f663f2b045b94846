package watch

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/controller"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// State is the lifecycle of the watch stream.
type State string

const (
	StateStopped      State = "stopped"
	StateWatching     State = "watching"
	StateReconnecting State = "reconnecting"
)

var allStates = []string{string(StateStopped), string(StateWatching), string(StateReconnecting)}

// State returns the current watch state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		controller.SetWatchState(string(s), allStates...)
		c.log.V(1).Info("Watch state changed", "from", prev, "to", s)
	}
}

// dispatch hands one watch event to the handler.
func (c *Controller) dispatch(ctx context.Context, ev watch.Event) {
	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
	case watch.Bookmark:
		rv := ""
		if obj, ok := ev.Object.(metav1.Object); ok {
			rv = obj.GetResourceVersion()
		}
		c.log.V(1).Info("Watch bookmark received", "resourceVersion", rv)
		return
	case watch.Error:
		c.log.V(1).Info("Watch error event received", "error", apierrors.FromObject(ev.Object).Error())
		return
	default:
		c.log.V(1).Info("Ignoring unknown watch event", "type", ev.Type)
		return
	}

	vs, ok := ev.Object.(*secretsv1alpha1.VaultSync)
	if !ok {
		c.log.V(1).Info("Ignoring watch event for unexpected object", "type", ev.Type, "object", fmt.Sprintf("%T", ev.Object))
		return
	}
	key := resource.KeyFor(vs)

	switch ev.Type {
	case watch.Added:
		c.call("add", key, func() error { return c.handler.OnAdded(ctx, vs) })
	case watch.Modified:
		c.call("update", key, func() error { return c.handler.OnUpdated(ctx, vs) })
	case watch.Deleted:
		c.call("delete", key, func() error { return c.handler.OnDeleted(ctx, vs) })
	}
}
