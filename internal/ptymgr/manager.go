package ptymgr

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// Manager spawns and supervises PTY sessions, one per agent.
type Manager struct {
	publisher Publisher

	mu       sync.RWMutex
	sessions map[string]*PtySession
}

// NewManager returns a Manager that fans child output out through
// publisher.
func NewManager(publisher Publisher) *Manager {
	return &Manager{
		publisher: publisher,
		sessions:  make(map[string]*PtySession),
	}
}

// Spawn starts plan inside a PTY of size cols x rows, registers the session
// under agentID (replacing any prior session for that id), and begins
// mirroring its output.
func (m *Manager) Spawn(agentID string, plan adapter.SpawnPlan, opts SpawnOpts) error {
	cmd := exec.Command(plan.Executable, plan.Argv...)
	cmd.Dir = plan.Cwd
	cmd.Env = append(os.Environ(), plan.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return fmt.Errorf("ptymgr: spawn agent %s: %w", agentID, err)
	}

	sess := &PtySession{
		agentID:      agentID,
		pty:          ptmx,
		cmd:          cmd,
		scrollback:   newRingBuffer(scrollbackCapacity),
		tail:         newTailBuffer(tailCapacity),
		resizeCh:     make(chan resizeRequest, 1),
		quitSequence: opts.QuitSequence,
		exited:       make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.sessions[agentID]; ok {
		m.forceKillLocked(old)
	}
	m.sessions[agentID] = sess
	m.mu.Unlock()

	go m.pump(sess)
	go m.drainResizes(sess)

	return nil
}

// pump reads until EOF/error, fans bytes out, then publishes the single
// terminal exit event regardless of how the child died.
func (m *Manager) pump(sess *PtySession) {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := sess.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			sess.scrollback.Write(chunk)
			sess.tail.Write(chunk)
			m.publisher.PublishPTYData(sess.agentID, chunk)
		}
		if readErr != nil {
			break
		}
	}

	waitErr := sess.cmd.Wait()
	exitCode := 0
	if sess.cmd.ProcessState != nil {
		exitCode = sess.cmd.ProcessState.ExitCode()
	}

	sess.mu.Lock()
	sess.exitCode = exitCode
	sess.exitErr = waitErr
	sess.mu.Unlock()

	_ = sess.pty.Close()
	m.publisher.PublishPTYExit(sess.agentID, exitCode, sess.tail.String(), waitErr)
	close(sess.exited)

	log := logger.ForAgent(sess.agentID)
	log.Debug().Int("exit_code", exitCode).Msg("pty session exited")
}

// drainResizes applies only the most recently requested size, coalescing
// back-to-back resize calls the same way the depth-1 channel collapses any
// pending request when a new one arrives first.
func (m *Manager) drainResizes(sess *PtySession) {
	for {
		select {
		case req := <-sess.resizeCh:
			_ = pty.Setsize(sess.pty, &pty.Winsize{Cols: req.cols, Rows: req.rows})
		case <-sess.exited:
			return
		}
	}
}

// Write sends bytes to the agent's PTY stdin.
func (m *Manager) Write(agentID string, data []byte) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}
	_, werr := sess.pty.Write(data)
	return werr
}

// Resize requests a new terminal size. Idempotent: back-to-back resizes
// before the agent's resize goroutine (drainResizes) applies them collapse
// to the latest request.
func (m *Manager) Resize(agentID string, cols, rows uint16) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}
	select {
	case sess.resizeCh <- resizeRequest{cols: cols, rows: rows}:
	default:
		// Channel full: drain the stale request and enqueue the fresh one.
		select {
		case <-sess.resizeCh:
		default:
		}
		sess.resizeCh <- resizeRequest{cols: cols, rows: rows}
	}
	return nil
}

// GetBuffer returns the agent's scrollback (last ~512 KiB).
func (m *Manager) GetBuffer(agentID string) ([]byte, error) {
	sess, err := m.get(agentID)
	if err != nil {
		return nil, err
	}
	return sess.scrollback.Bytes(), nil
}

// GracefulKill sends the quit sequence, waits up to the grace window, then
// escalates to SIGTERM and finally SIGKILL. Returns nil at once, without
// signalling, if the child has already exited or a kill is already under way.
func (m *Manager) GracefulKill(agentID string) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.killing {
		sess.mu.Unlock()
		return nil
	}
	sess.killing = true
	sess.mu.Unlock()

	select {
	case <-sess.exited:
		return nil
	default:
	}

	if sess.quitSequence != "" {
		_, _ = sess.pty.Write([]byte(sess.quitSequence))
	}

	select {
	case <-sess.exited:
		return nil
	case <-time.After(graceWindow):
	}

	if runtime.GOOS != "windows" {
		_ = sess.cmd.Process.Signal(terminateSignal())
		select {
		case <-sess.exited:
			return nil
		case <-time.After(termSlack):
		}
	}

	return m.ForceKill(agentID)
}

// ForceKill sends SIGKILL (or the platform-equivalent Process.Kill)
// immediately.
func (m *Manager) ForceKill(agentID string) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.forceKillLocked(sess)
	m.mu.Unlock()
	return nil
}

func (m *Manager) forceKillLocked(sess *PtySession) {
	if sess.cmd == nil || sess.cmd.Process == nil {
		return
	}
	select {
	case <-sess.exited:
		return
	default:
	}
	_ = sess.cmd.Process.Kill()
}

func (m *Manager) get(agentID string) (*PtySession, error) {
	m.mu.RLock()
	sess, ok := m.sessions[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, &NoSuchSession{AgentID: agentID}
	}
	return sess, nil
}
