package addrlist

import (
	"net"
	"testing"
	"time"

	"github.com/drizzle-bt/drizzle/internal/peersource"
	"github.com/stretchr/testify/assert"
)

func TestAddrList(t *testing.T) {
	clientIP := net.IPv4(1, 2, 3, 4)
	al := New(2, 5000, clientIP)
	now := time.Unix(1000, 0)
	al.now = func() time.Time { now = now.Add(time.Second); return now }

	// Push 1st addr
	al.Push([]*net.TCPAddr{newAddr("1.1.1.1")}, peersource.Tracker)
	assert.Equal(t, 1, al.Len())

	// Push same addr again
	al.Push([]*net.TCPAddr{newAddr("1.1.1.1")}, peersource.Tracker)
	assert.Equal(t, 1, al.Len())

	// Push 2nd addr
	al.Push([]*net.TCPAddr{newAddr("2.2.2.2")}, peersource.Tracker)
	assert.Equal(t, 2, al.Len())

	// Most recent first
	addr, src := al.Pop()
	assert.Equal(t, "2.2.2.2:1", addr.String())
	assert.Equal(t, peersource.Tracker, src)
	assert.Equal(t, 1, al.Len())

	// Oldest is evicted when full
	al.Push([]*net.TCPAddr{newAddr("3.3.3.3")}, peersource.Tracker)
	al.Push([]*net.TCPAddr{newAddr("4.4.4.4")}, peersource.Tracker)
	assert.Equal(t, 2, al.Len())
	addr, _ = al.Pop()
	assert.Equal(t, "4.4.4.4:1", addr.String())
	addr, _ = al.Pop()
	assert.Equal(t, "3.3.3.3:1", addr.String())
	addr, _ = al.Pop()
	assert.Nil(t, addr)
}

func TestManualFirst(t *testing.T) {
	al := New(10, 5000, nil)
	al.Push([]*net.TCPAddr{newAddr("1.1.1.1")}, peersource.Manual)
	al.Push([]*net.TCPAddr{newAddr("2.2.2.2")}, peersource.Tracker)
	addr, src := al.Pop()
	assert.Equal(t, "1.1.1.1:1", addr.String())
	assert.Equal(t, peersource.Manual, src)
}

func TestOwnAddressIgnored(t *testing.T) {
	clientIP := net.IPv4(1, 2, 3, 4)
	al := New(10, 5000, clientIP)
	al.Push([]*net.TCPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 5000},
		{IP: clientIP, Port: 5000},
		{IP: clientIP, Port: 0},
		{IP: clientIP, Port: 5001},
	}, peersource.Tracker)
	assert.Equal(t, 1, al.Len())
}

func newAddr(ip string) *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 1}
}
