// Package admin implements the administrative console: a small
// line-oriented command set operating on the same Store the protocol
// engine uses, plus the server's active-connection registry. It can run
// in-process (wired to a live *nntpd.Server) or against a Store opened
// out-of-band.
package admin

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/nntpd/nntpd/internal/session"
	"github.com/nntpd/nntpd/internal/store"
)

// GroupStore is the subset of administrative operations a Store backend
// must expose beyond the read/post contract of store.Store for the
// console to manage catalogs, identities, peers and integrity.
type GroupStore interface {
	store.Store

	CreateCatalog(name, description string, moderated bool) error
	SetCatalogCreator(name, creator string) error
	SetCatalogDenyLocal(name string, deny bool) error
	SetCatalogDenyPeer(name string, deny bool) error
	SetCatalogModeration(name string, moderated bool) error

	CreateIdentity(username, plaintext string, caps map[store.Capability]bool) (*store.Identity, error)

	CreatePeer(host string, port int) (*store.Peer, error)
	SetPeerSuck(host string, port int, wildmatExpr string) error
	ListPeers() []*store.Peer

	VerifyIntegrity() []string
	UpdateWatermarks()
	Annihilate()
}

// ConnRegistry exposes the server's live session set for SHOWCONN.
type ConnRegistry interface {
	ActiveSessions() []*session.Session
}

// ErrQuit is returned by Execute for the QUIT verb; callers should close
// the console session on receiving it.
var ErrQuit = errors.New("admin: quit")

// DebugFlag names one of the DEBUG toggles.
type DebugFlag string

const (
	DebugBytes    DebugFlag = "BYTES"
	DebugCommands DebugFlag = "COMMANDS"
	DebugData     DebugFlag = "DATA"
)

// Console executes administrative verbs against a GroupStore and an
// optional connection registry.
type Console struct {
	Store    GroupStore
	Registry ConnRegistry

	debug map[DebugFlag]bool
}

// NewConsole builds a Console bound to backing and, optionally, a live
// server's session registry (nil is fine for out-of-band use).
func NewConsole(backing GroupStore, registry ConnRegistry) *Console {
	return &Console{
		Store:    backing,
		Registry: registry,
		debug:    make(map[DebugFlag]bool),
	}
}

type adminHandler func(c *Console, args []string) (string, error)

var handlerTable = map[string]adminHandler{
	"DB":       handleDB,
	"GROUP":    handleGroup,
	"PEER":     handlePeer,
	"USER":     handleUser,
	"SHOWCONN": handleShowConn,
	"DEBUG":    handleDebug,
	"QUIT":     handleQuit,
}

// Execute parses and runs a single console command line, returning its
// textual result. Returns ErrQuit for QUIT.
func (c *Console) Execute(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	verb := strings.ToUpper(fields[0])
	h, ok := handlerTable[verb]
	if !ok {
		return "", fmt.Errorf("admin: unknown command %q", fields[0])
	}
	return h(c, fields[1:])
}

func handleQuit(c *Console, args []string) (string, error) {
	return "bye", ErrQuit
}

func handleDB(c *Console, args []string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("usage: DB {ANNIHILATE|UPDATE|VERIFY}")
	}
	switch strings.ToUpper(args[0]) {
	case "ANNIHILATE":
		c.Store.Annihilate()
		return "store annihilated", nil
	case "UPDATE":
		c.Store.UpdateWatermarks()
		return "watermarks updated", nil
	case "VERIFY":
		problems := c.Store.VerifyIntegrity()
		if len(problems) == 0 {
			return "ok", nil
		}
		return strings.Join(problems, "\n"), nil
	default:
		return "", fmt.Errorf("admin: unknown DB subcommand %q", args[0])
	}
}

func handleGroup(c *Console, args []string) (string, error) {
	if len(args) < 2 {
		return "", errors.New("usage: GROUP <name> {CREATE <desc>|CREATOR <x>|DENYLOCAL on|off|DENYPEER on|off|MODERATION on|off}")
	}
	name := args[0]
	sub := strings.ToUpper(args[1])
	rest := args[2:]

	switch sub {
	case "CREATE":
		desc := strings.Join(rest, " ")
		if err := c.Store.CreateCatalog(name, desc, false); err != nil {
			return "", err
		}
		return fmt.Sprintf("group %s created", name), nil
	case "CREATOR":
		if len(rest) < 1 {
			return "", errors.New("usage: GROUP <name> CREATOR <x>")
		}
		if err := c.Store.SetCatalogCreator(name, rest[0]); err != nil {
			return "", err
		}
		return fmt.Sprintf("group %s creator set to %s", name, rest[0]), nil
	case "DENYLOCAL":
		on, err := parseOnOff(rest)
		if err != nil {
			return "", err
		}
		if err := c.Store.SetCatalogDenyLocal(name, on); err != nil {
			return "", err
		}
		return fmt.Sprintf("group %s denylocal %s", name, onOffString(on)), nil
	case "DENYPEER":
		on, err := parseOnOff(rest)
		if err != nil {
			return "", err
		}
		if err := c.Store.SetCatalogDenyPeer(name, on); err != nil {
			return "", err
		}
		return fmt.Sprintf("group %s denypeer %s", name, onOffString(on)), nil
	case "MODERATION":
		on, err := parseOnOff(rest)
		if err != nil {
			return "", err
		}
		if err := c.Store.SetCatalogModeration(name, on); err != nil {
			return "", err
		}
		return fmt.Sprintf("group %s moderation %s", name, onOffString(on)), nil
	default:
		return "", fmt.Errorf("admin: unknown GROUP subcommand %q", args[1])
	}
}

func handlePeer(c *Console, args []string) (string, error) {
	if len(args) < 2 {
		return "", errors.New("usage: PEER <host[:port]> {CREATE|SUCK [wildmat]}")
	}
	host, port, err := splitHostPort(args[0])
	if err != nil {
		return "", err
	}
	sub := strings.ToUpper(args[1])

	switch sub {
	case "CREATE":
		if _, err := c.Store.CreatePeer(host, port); err != nil {
			return "", err
		}
		return fmt.Sprintf("peer %s created", args[0]), nil
	case "SUCK":
		wildmatExpr := ""
		if len(args) > 2 {
			wildmatExpr = strings.Join(args[2:], " ")
		}
		if err := c.Store.SetPeerSuck(host, port, wildmatExpr); err != nil {
			return "", err
		}
		return fmt.Sprintf("peer %s suck set to %q", args[0], wildmatExpr), nil
	default:
		return "", fmt.Errorf("admin: unknown PEER subcommand %q", args[1])
	}
}

func handleUser(c *Console, args []string) (string, error) {
	if len(args) < 3 || strings.ToUpper(args[1]) != "CREATE" {
		return "", errors.New("usage: USER <name> CREATE <pass>")
	}
	username, plaintext := args[0], args[2]
	if _, err := c.Store.CreateIdentity(username, plaintext, map[store.Capability]bool{}); err != nil {
		return "", err
	}
	return fmt.Sprintf("user %s created", username), nil
}

func handleShowConn(c *Console, args []string) (string, error) {
	if c.Registry == nil {
		return "no registry attached", nil
	}
	sessions := c.Registry.ActiveSessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	var b strings.Builder
	for _, s := range sessions {
		group := "-"
		if s.Group != nil {
			group = s.Group.Name
		}
		fmt.Fprintf(&b, "%s %s state=%s group=%s\n", s.ID, s.Remote, s.State, group)
	}
	if b.Len() == 0 {
		return "no active connections", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func handleDebug(c *Console, args []string) (string, error) {
	if len(args) != 2 {
		return "", errors.New("usage: DEBUG {BYTES|COMMANDS|DATA} on|off")
	}
	flag := DebugFlag(strings.ToUpper(args[0]))
	switch flag {
	case DebugBytes, DebugCommands, DebugData:
	default:
		return "", fmt.Errorf("admin: unknown DEBUG flag %q", args[0])
	}
	on, err := parseOnOff(args[1:])
	if err != nil {
		return "", err
	}
	c.debug[flag] = on
	return fmt.Sprintf("debug %s %s", flag, onOffString(on)), nil
}

// DebugEnabled reports whether a DEBUG flag is currently on.
func (c *Console) DebugEnabled(flag DebugFlag) bool {
	return c.debug[flag]
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errors.New("expected on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on|off, got %q", args[0])
	}
}

func onOffString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// splitHostPort parses "host[:port]", defaulting to the standard NNTP
// port when none is given.
func splitHostPort(hostport string) (host string, port int, err error) {
	if !strings.Contains(hostport, ":") {
		return hostport, 119, nil
	}
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("admin: bad port %q", p)
	}
	return h, portNum, nil
}
