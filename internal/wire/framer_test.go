package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineReadWrite(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sf := NewFramer(server, 0)
	cf := NewFramer(client, 0)

	done := make(chan error, 1)
	go func() {
		done <- sf.WriteLine("200 hello")
	}()

	line, err := cf.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "200 hello", line)
	require.NoError(t, <-done)
}

func TestDotStuffRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	lines := []string{"hello", ".line begins with one dot", "..two dots", "normal"}

	go func() {
		sf := NewFramer(server, 0)
		i := 0
		_ = sf.WriteDotBlock(func() (string, bool) {
			if i >= len(lines) {
				return "", false
			}
			l := lines[i]
			i++
			return l, true
		})
	}()

	cf := NewFramer(client, 0)
	got, err := cf.ReadDotBlock()
	require.NoError(t, err)
	require.Equal(t, lines, got)
}

func TestCompressedExchange(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	lines := []string{"first", ".dotted", "last"}

	go func() {
		sf := NewFramer(server, 0)
		if err := sf.EnableCompression(true); err != nil {
			return
		}
		i := 0
		_ = sf.WriteDotBlock(func() (string, bool) {
			if i >= len(lines) {
				return "", false
			}
			l := lines[i]
			i++
			return l, true
		})
		_ = sf.WriteLine("205 closing")
	}()

	cf := NewFramer(client, 0)
	require.NoError(t, cf.EnableCompression(true))

	got, err := cf.ReadDotBlock()
	require.NoError(t, err)
	require.Equal(t, lines, got)

	line, err := cf.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "205 closing", line)
}

func TestLineTooLong(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		sf := NewFramer(server, 0)
		long := make([]byte, 10000)
		for i := range long {
			long[i] = 'a'
		}
		_ = sf.WriteLine(string(long))
	}()

	cf := NewFramer(client, 16)
	_, err := cf.ReadLine()
	require.ErrorIs(t, err, ErrLineTooLong)
}
