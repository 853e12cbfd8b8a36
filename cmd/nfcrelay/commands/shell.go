package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/nfcrelay/nfcrelay-go/pkg/session"
	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
)

// relaySession is the part of *session.Session the shell drives.
type relaySession interface {
	Send(payload []byte) error
	State() session.State
	Endpoint() session.Endpoint
}

// shell reads payloads from the terminal and prints what the peer sends.
// It is the session's Observer.
type shell struct {
	mu      sync.Mutex
	out     io.Writer
	session relaySession
}

func newShell(out io.Writer) *shell {
	return &shell{out: out}
}

func (s *shell) OnReceive(payload []byte) {
	s.printf("<< %s\n", strings.ToUpper(hex.EncodeToString(payload)))
}

func (s *shell) OnNetworkStatus(status transport.NetworkStatus) {
	s.printf("* %s\n", status)
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// execute runs one input line and reports whether the shell should exit.
// A line that is not a command is sent as a hex payload.
func (s *shell) execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "send", "s":
		if len(args) == 0 {
			s.printf("usage: send <hex>\n")
			return false
		}
		s.send(strings.Join(args, ""))
	case "status":
		ep := s.session.Endpoint()
		s.printf("state: %s\nrelay: %s:%d tls=%t\nsession: %d\n",
			s.session.State(), ep.Hostname, ep.Port, ep.TLS, ep.SessionID)
	case "quit", "exit", "q":
		return true
	default:
		s.send(input)
	}
	return false
}

func (s *shell) send(text string) {
	payload, err := parseHex(text)
	if err != nil {
		s.printf("error: %v\n", err)
		return
	}
	if err := s.session.Send(payload); err != nil {
		s.printf("error: %v\n", err)
		return
	}
	s.printf(">> %s\n", strings.ToUpper(hex.EncodeToString(payload)))
}

func (s *shell) printHelp() {
	s.printf(`Commands:
  <hex>         - Send a payload, e.g. 00A4040007A0000000031010
  send <hex>    - Same, spaces and colons allowed
  status        - Show session state and relay
  help          - Show this help
  quit          - Disconnect and exit
`)
}

// parseHex decodes hex text, ignoring spaces, colons and a 0x prefix.
func parseHex(text string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(text)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}

// runShell reads lines until quit, EOF or ctx ends.
func runShell(ctx context.Context, rl *readline.Instance, sh *shell) {
	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer stop()

	sh.printHelp()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if sh.execute(line) {
			return
		}
	}
}
