package admin_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nntpd/nntpd/internal/admin"
	"github.com/nntpd/nntpd/internal/store/memstore"
)

func newConsole(t *testing.T) (*admin.Console, *memstore.Store) {
	t.Helper()
	backing := memstore.New()
	return admin.NewConsole(backing, nil), backing
}

func TestGroupCreateAndToggles(t *testing.T) {
	c, _ := newConsole(t)

	out, err := c.Execute("GROUP comp.lang.go CREATE discussion of Go")
	require.NoError(t, err)
	require.Contains(t, out, "created")

	out, err = c.Execute("GROUP comp.lang.go MODERATION on")
	require.NoError(t, err)
	require.Contains(t, out, "moderation on")

	out, err = c.Execute("GROUP comp.lang.go DENYPEER on")
	require.NoError(t, err)
	require.Contains(t, out, "denypeer on")
}

func TestUserCreate(t *testing.T) {
	c, backing := newConsole(t)

	out, err := c.Execute("USER alice CREATE hunter2")
	require.NoError(t, err)
	require.Contains(t, out, "created")

	id, err := backing.AuthenticatePassword(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "alice", id.Username)
}

func TestPeerCreateAndSuck(t *testing.T) {
	c, _ := newConsole(t)

	_, err := c.Execute("PEER news.example.com:119 CREATE")
	require.NoError(t, err)

	out, err := c.Execute("PEER news.example.com:119 SUCK comp.*,!comp.sys.*")
	require.NoError(t, err)
	require.Contains(t, out, "comp.*,!comp.sys.*")
}

func TestDBVerifyCleanStoreIsOK(t *testing.T) {
	c, _ := newConsole(t)
	out, err := c.Execute("DB VERIFY")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestDBAnnihilateClearsStore(t *testing.T) {
	c, backing := newConsole(t)
	_, err := c.Execute("GROUP comp.lang.go CREATE x")
	require.NoError(t, err)

	_, err = c.Execute("DB ANNIHILATE")
	require.NoError(t, err)

	cat, err := backing.GetCatalog(context.Background(), nil, "comp.lang.go")
	require.NoError(t, err)
	require.Nil(t, cat)
}

func TestDebugTogglesTracked(t *testing.T) {
	c, _ := newConsole(t)
	_, err := c.Execute("DEBUG COMMANDS on")
	require.NoError(t, err)
	require.True(t, c.DebugEnabled(admin.DebugCommands))

	_, err = c.Execute("DEBUG COMMANDS off")
	require.NoError(t, err)
	require.False(t, c.DebugEnabled(admin.DebugCommands))
}

func TestQuitReturnsSentinel(t *testing.T) {
	c, _ := newConsole(t)
	_, err := c.Execute("QUIT")
	require.ErrorIs(t, err, admin.ErrQuit)
}

func TestUnknownCommand(t *testing.T) {
	c, _ := newConsole(t)
	_, err := c.Execute("BOGUS")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "unknown command"))
}
