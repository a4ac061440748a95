package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nntpd/nntpd/internal/store"
)

func TestNewIsGreeting(t *testing.T) {
	s := New("id-1", &net.TCPAddr{}, true)
	require.Equal(t, Greeting, s.State)
	require.False(t, s.IsAuthenticated())
	require.True(t, s.PostingAllowed)
}

func TestSelectGroupSeedsCursorAtLow(t *testing.T) {
	s := New("id-1", &net.TCPAddr{}, true)
	s.SelectGroup(&store.Catalog{Name: "comp.lang.go", Low: 5, High: 42})
	require.NotNil(t, s.Group)
	require.Equal(t, "comp.lang.go", s.Group.Name)
	require.Equal(t, int64(5), s.Group.Cursor)
	require.Equal(t, int64(42), s.Group.High)
}

func TestResetAuthClearsIdentityAndDemotesState(t *testing.T) {
	s := New("id-1", &net.TCPAddr{}, true)
	s.Identity = &store.Identity{Username: "alice"}
	s.PendingUsername = "alice"
	s.State = Authenticated

	s.ResetAuth()

	require.Nil(t, s.Identity)
	require.Empty(t, s.PendingUsername)
	require.Equal(t, Unauthenticated, s.State)
	require.False(t, s.IsAuthenticated())
}

func TestResetAuthLeavesNonAuthenticatedStateAlone(t *testing.T) {
	s := New("id-1", &net.TCPAddr{}, true)
	s.State = Posting

	s.ResetAuth()

	require.Equal(t, Posting, s.State)
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Greeting:        "greeting",
		Unauthenticated: "unauthenticated",
		Authenticated:   "authenticated",
		Posting:         "posting",
		Terminating:     "terminating",
		State(99):       "unknown",
	}
	for state, want := range cases {
		require.Equal(t, want, state.String())
	}
}
