// Package player plays radio streams.
package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/jrockway/nixie-radio/control/radio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var commandErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "player_command_errors",
	Help: "count of commands that could not be sent to the player, by command",
}, []string{"command"})

// MPV plays streams with an mpv process, controlled through its JSON IPC socket.
type MPV struct {
	argv   []string
	socket string
	l      trace.EventLog

	mu   sync.Mutex
	cmd  *exec.Cmd
	conn net.Conn
}

var _ radio.Player = (*MPV)(nil)

// NewMPV prepares to run command, a shell-style command line like "mpv --no-video", with its IPC
// server on socket.
func NewMPV(command, socket string) (*MPV, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse mpv command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty mpv command")
	}
	return &MPV{argv: argv, socket: socket, l: trace.NewEventLog("player", "mpv")}, nil
}

// Start runs mpv idle and connects to it.
func (m *MPV) Start(ctx context.Context) error {
	args := append([]string{}, m.argv[1:]...)
	args = append(args, "--idle", "--input-ipc-server="+m.socket)
	cmd := exec.CommandContext(ctx, m.argv[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", m.argv[0], err)
	}
	m.mu.Lock()
	m.cmd = cmd
	m.mu.Unlock()
	log.Printf("started %s (pid %d)", m.argv[0], cmd.Process.Pid)
	return m.connect(ctx)
}

// connect dials the IPC socket, waiting for mpv to create it.
func (m *MPV) connect(ctx context.Context) error {
	var conn net.Conn
	var err error
	for i := 0; i < 60; i++ {
		conn, err = net.Dial("unix", m.socket)
		if err == nil {
			break
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("connect to mpv: %w", ctx.Err())
		}
	}
	if err != nil {
		return fmt.Errorf("connect to mpv: %w", err)
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.l.Printf("connected to %s", m.socket)
	go m.drain(conn)
	return nil
}

// drain reads replies and events so mpv never blocks writing them.
func (m *MPV) drain(conn net.Conn) {
	s := bufio.NewScanner(conn)
	for s.Scan() {
		var reply struct {
			Error string `json:"error"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal(s.Bytes(), &reply); err != nil {
			m.l.Errorf("unparseable message %q: %v", s.Text(), err)
			continue
		}
		switch {
		case reply.Event != "":
			m.l.Printf("event %s", reply.Event)
		case reply.Error != "" && reply.Error != "success":
			m.l.Errorf("command failed: %s", reply.Error)
		}
	}
	if err := s.Err(); err != nil {
		m.l.Errorf("read: %v", err)
	}
}

func (m *MPV) send(command ...interface{}) {
	name := fmt.Sprint(command[0])
	msg, err := json.Marshal(struct {
		Command []interface{} `json:"command"`
	}{Command: command})
	if err != nil {
		commandErrorsCounter.WithLabelValues(name).Inc()
		m.l.Errorf("marshal %v: %v", command, err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		commandErrorsCounter.WithLabelValues(name).Inc()
		m.l.Errorf("%s: not connected", name)
		return
	}
	m.l.Printf("send %s", msg)
	if _, err := m.conn.Write(append(msg, '\n')); err != nil {
		commandErrorsCounter.WithLabelValues(name).Inc()
		m.l.Errorf("send %s: %v", name, err)
		log.Printf("mpv: send %s: %v", name, err)
	}
}

// Play implements radio.Player.
func (m *MPV) Play(uri string, volume int) {
	m.send("loadfile", uri)
	m.SetVolume(volume)
}

// Stop implements radio.Player.
func (m *MPV) Stop() {
	m.send("stop")
}

// SetVolume implements radio.Player.
func (m *MPV) SetVolume(volume int) {
	m.send("set_property", "volume", volume)
}

// Close disconnects and kills mpv.
func (m *MPV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.l.Finish()
	var result error
	if m.conn != nil {
		result = m.conn.Close()
		m.conn = nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil && result == nil {
			result = err
		}
		m.cmd.Wait()
		m.cmd = nil
		os.Remove(m.socket)
	}
	return result
}
