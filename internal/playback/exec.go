package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var ErrNoCommand = errors.New("no player command configured")

func splitCommand(command string) (string, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, ErrNoCommand
	}
	return fields[0], fields[1:], nil
}

// ExecPlayer plays audio by running an external player (mpv by default)
// with the URL as its last argument.
type ExecPlayer struct {
	Command string
}

func (p ExecPlayer) Play(ctx context.Context, url string) error {
	name, args, err := splitCommand(p.Command)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, name, append(args, url)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ExecSpeaker reads text with an external speech synthesiser.
type ExecSpeaker struct {
	Command string
}

func (s ExecSpeaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to speak")
	}
	name, args, err := splitCommand(s.Command)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, name, append(args, text)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ExecAmbient loops a local track through mpv and changes its volume over
// mpv's JSON IPC socket.
type ExecAmbient struct {
	Command string
	Track   string
	Socket  string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (a *ExecAmbient) Start(_ context.Context, volume float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		return nil
	}
	if a.Track == "" {
		return errors.New("no ambient track configured")
	}
	name, args, err := splitCommand(a.Command)
	if err != nil {
		return err
	}
	args = append(args,
		"--loop=inf",
		fmt.Sprintf("--volume=%d", int(volume*100)),
		"--input-ipc-server="+a.Socket,
		a.Track,
	)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ambient: %w", err)
	}
	a.cmd = cmd
	go func() {
		_ = cmd.Wait()
		a.mu.Lock()
		if a.cmd == cmd {
			a.cmd = nil
		}
		a.mu.Unlock()
	}()
	return nil
}

func (a *ExecAmbient) SetVolume(volume float64) error {
	a.mu.Lock()
	running := a.cmd != nil
	a.mu.Unlock()
	if !running {
		return nil
	}

	conn, err := net.DialTimeout("unix", a.Socket, time.Second)
	if err != nil {
		return fmt.Errorf("ambient ipc: %w", err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))

	payload, err := json.Marshal(map[string]any{
		"command": []any{"set_property", "volume", volume * 100},
	})
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("ambient ipc: %w", err)
	}
	return nil
}

func (a *ExecAmbient) Stop() error {
	a.mu.Lock()
	cmd := a.cmd
	a.cmd = nil
	a.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop ambient: %w", err)
	}
	return nil
}
