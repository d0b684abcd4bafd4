package windowbridge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Popout is the bridge's record of one pop-out window. The bridge only
// tracks identity and creation parameters; the actual window is opened and
// closed by the host shell in response to the POPOUT_* events.
type Popout struct {
	ID        string         `json:"id"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CreatePopout registers a new pop-out window and emits POPOUT_CREATED so
// the host shell opens it.
func (b *Bridge) CreatePopout(params map[string]any) Popout {
	p := Popout{ID: uuid.New().String(), Params: params, CreatedAt: time.Now()}

	b.popoutMu.Lock()
	b.popouts = append(b.popouts, p)
	b.popoutMu.Unlock()

	b.transport.EmitToPopouts("POPOUT_CREATED", p)
	return p
}

// ClosePopout unregisters a pop-out window and emits POPOUT_CLOSED so the
// host shell tears the window down.
func (b *Bridge) ClosePopout(id string) error {
	b.popoutMu.Lock()
	found := false
	for i, p := range b.popouts {
		if p.ID == id {
			b.popouts = append(b.popouts[:i], b.popouts[i+1:]...)
			found = true
			break
		}
	}
	b.popoutMu.Unlock()

	if !found {
		return fmt.Errorf("windowbridge: no popout %s", id)
	}
	b.transport.EmitToPopouts("POPOUT_CLOSED", map[string]string{"id": id})
	return nil
}

// ListPopouts returns a snapshot of every registered pop-out, in creation
// order.
func (b *Bridge) ListPopouts() []Popout {
	b.popoutMu.Lock()
	defer b.popoutMu.Unlock()
	return append([]Popout(nil), b.popouts...)
}

// FocusMain asks the host shell to raise the main window, optionally
// scrolled to agentID.
func (b *Bridge) FocusMain(agentID string) {
	b.transport.EmitToPopouts("FOCUS_MAIN", map[string]string{"agentId": agentID})
}

// NavigateToAgent asks every window showing agent state to navigate to
// agentID.
func (b *Bridge) NavigateToAgent(agentID string) {
	b.transport.EmitToPopouts("NAVIGATE_TO_AGENT", map[string]string{"agentId": agentID})
}
