package torrent

import (
	"context"
	"errors"
	"net"

	"github.com/drizzle-bt/drizzle/internal/bandwidth"
	"github.com/drizzle-bt/drizzle/internal/btconn"
	"github.com/drizzle-bt/drizzle/internal/fast"
	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/internal/peer"
	"github.com/drizzle-bt/drizzle/internal/peerconn"
	"github.com/drizzle-bt/drizzle/internal/peerprotocol"
	"github.com/drizzle-bt/drizzle/internal/peersource"
	"github.com/drizzle-bt/drizzle/internal/unchoker"
)

// Extensions we advertise in the handshake.
var ourExtensions = btconn.ExtensionBitExtensionProtocol.Union(btconn.ExtensionBitFast)

// Number of pieces a peer may request while we choke it (BEP 6).
const allowedFastSetSize = 10

type dialResult struct {
	Addr   *net.TCPAddr
	Source peersource.Source
	Conn   net.Conn
	Ext    btconn.Extensions
	ID     [20]byte
	Err    error
}

type incomingConn struct {
	Conn net.Conn
	Ext  btconn.Extensions
	ID   [20]byte
}

func (t *torrent) handleNewPeers(addrs []*net.TCPAddr, source peersource.Source) {
	if t.dialCtx == nil {
		if source == peersource.Manual {
			t.fixedPeers = append(t.fixedPeers, addrs...)
		}
		return
	}
	t.log.Debugf("received %d peers from %s", len(addrs), source)
	t.addrList.Push(addrs, source)
	t.dialAddresses()
}

func (t *torrent) dialAddresses() {
	if t.dialCtx == nil {
		return
	}
	for len(t.dialing) < t.config.MaxPeerDial && t.numPeers+len(t.dialing) < t.config.MaxPeers {
		addr, src := t.addrList.Pop()
		if addr == nil {
			t.setNeedMorePeers(true)
			return
		}
		key := addr.String()
		if _, ok := t.mismatched[key]; ok {
			continue
		}
		if _, ok := t.peersByAddr[key]; ok {
			continue
		}
		if _, ok := t.dialing[key]; ok {
			continue
		}
		st := new(peerconn.Phase)
		t.dialing[key] = st
		go t.dial(t.dialCtx, addr, src, st)
	}
	t.setNeedMorePeers(false)
}

func (t *torrent) dial(ctx context.Context, addr *net.TCPAddr, source peersource.Source, st *peerconn.Phase) {
	res := &dialResult{Addr: addr, Source: source}
	if err := t.session.dialLimiter.Wait(ctx); err != nil {
		res.Err = err
	} else {
		res.Conn, res.Ext, res.ID, res.Err = btconn.Dial(ctx, addr.String(),
			t.config.PeerConnectTimeout, t.config.PeerHandshakeTimeout, ourExtensions, t.infoHash, t.session.peerID,
			func() { st.Store(peerconn.Handshaking) })
	}
	select {
	case t.dialResultC <- res:
	case <-t.closeC:
		if res.Conn != nil {
			res.Conn.Close()
		}
	}
}

func (t *torrent) handleDialResult(res *dialResult) {
	key := res.Addr.String()
	delete(t.dialing, key)
	if res.Err != nil {
		t.logConnectError(res.Addr, res.Err)
		t.dialAddresses()
		return
	}
	if t.dialCtx == nil {
		res.Conn.Close()
		return
	}
	t.startPeer(res.Conn, res.Source, res.Ext, res.ID)
	t.dialAddresses()
}

func (t *torrent) logConnectError(addr *net.TCPAddr, err error) {
	var berr *btconn.Error
	var nerr net.Error
	switch {
	case errors.Is(err, context.Canceled):
	case errors.As(err, &berr) && berr.Mismatch():
		t.mismatched[addr.String()] = struct{}{}
		t.log.Debugln(&ProtocolMismatchError{Addr: addr, err: err})
	case errors.As(err, &nerr) && nerr.Timeout():
		t.log.Debugln(&TimeoutError{Addr: addr, Op: "connect"})
	default:
		t.log.Debugln("cannot connect to peer:", err)
	}
}

// handleIncomingConn takes a connection accepted and handshaked by the session listener.
func (t *torrent) handleIncomingConn(ic *incomingConn) {
	if t.dialCtx == nil {
		ic.Conn.Close()
		return
	}
	if t.numPeers >= t.config.MaxPeers {
		t.log.Debugln("peer limit reached, rejecting peer", ic.Conn.RemoteAddr())
		ic.Conn.Close()
		return
	}
	t.startPeer(ic.Conn, peersource.Incoming, ic.Ext, ic.ID)
}

func (t *torrent) startPeer(conn net.Conn, source peersource.Source, ext btconn.Extensions, id [20]byte) {
	key := conn.RemoteAddr().String()
	if _, ok := t.peersByAddr[key]; ok || t.numPeers >= t.config.MaxPeers {
		conn.Close()
		return
	}
	for _, pe := range t.peers {
		if pe != nil && pe.ID == id {
			t.log.Debugln("already connected to peer id", pe.Client(), "from", pe.Addr())
			conn.Close()
			return
		}
	}
	fastEnabled := ext.Has(btconn.ExtensionBitFast)
	extensionsEnabled := ext.Has(btconn.ExtensionBitExtensionProtocol)

	pc := peerconn.New(conn, logger.New("peer "+key), peerconn.Config{
		PieceReadTimeout: t.config.PieceReadTimeout,
		MaxQueuedPieces:  t.config.MaxQueuedPieceReplies,
		FastEnabled:      fastEnabled,
		Download:         t.limiter.Gate(bandwidth.Download),
		Upload:           t.limiter.Gate(bandwidth.Upload),
	})
	pe := peer.New(pc, t.allocPeerIndex(), id, source, fastEnabled, extensionsEnabled)
	if _, ok := t.unreliableIP[pe.IP().String()]; ok {
		pe.SetUnreliable()
	}
	t.peers[pe.Index] = pe
	t.peersByAddr[key] = pe
	t.numPeers++
	t.session.metrics.Peers.Inc(1)
	if source == peersource.Incoming {
		t.numIncoming++
	}
	go pe.Run(t.messages, t.peerDisconnectedC)

	t.sendFirstMessage(pe)
	if extensionsEnabled {
		var metadataSize uint32
		if t.info != nil && !t.info.IsPrivate() {
			metadataSize = uint32(len(t.info.Bytes))
		}
		hs := peerprotocol.NewExtensionHandshake(metadataSize, "drizzle "+Version, t.config.RequestQueueLength)
		pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDHandshake, Payload: hs})
	}
	t.log.Debugf("peer connected: %s (%s, %s)", key, pe.Client(), source)
	t.publish(Event{Type: EventPeerCountChanged, Peers: t.numPeers})
}

func (t *torrent) allocPeerIndex() uint32 {
	if n := len(t.freeIndexes); n > 0 {
		i := t.freeIndexes[n-1]
		t.freeIndexes = t.freeIndexes[:n-1]
		return i
	}
	t.peers = append(t.peers, nil)
	return uint32(len(t.peers) - 1)
}

// sendFirstMessage announces the pieces we have. Before the info dictionary is known
// we have nothing to announce.
func (t *torrent) sendFirstMessage(pe *peer.Peer) {
	if t.store == nil {
		if pe.FastEnabled {
			pe.SendMessage(peerprotocol.HaveNoneMessage{})
		}
		return
	}
	bf := t.store.Verified()
	switch {
	case pe.FastEnabled && bf.All():
		pe.SendMessage(peerprotocol.HaveAllMessage{})
	case pe.FastEnabled && bf.Count() == 0:
		pe.SendMessage(peerprotocol.HaveNoneMessage{})
	case bf.Count() > 0:
		pe.SendMessage(peerprotocol.BitfieldMessage{Data: append([]byte(nil), bf.Bytes()...)})
	}
	if pe.FastEnabled {
		t.sendAllowedFast(pe)
	}
}

func (t *torrent) sendAllowedFast(pe *peer.Peer) {
	if t.info == nil || t.info.NumPieces == 0 {
		return
	}
	for _, i := range fast.AllowedSet(allowedFastSetSize, t.info.NumPieces, t.infoHash, pe.IP()) {
		pe.AllowedFastPieces[i] = struct{}{}
		pe.SendMessage(peerprotocol.AllowedFastMessage{HaveMessage: peerprotocol.HaveMessage{Index: i}})
	}
}

// closePeer closes the connection and releases everything the peer held.
func (t *torrent) closePeer(pe *peer.Peer) {
	if t.peers[pe.Index] != pe {
		return
	}
	pe.Close()
	t.peers[pe.Index] = nil
	t.freeIndexes = append(t.freeIndexes, pe.Index)
	delete(t.peersByAddr, pe.Addr().String())
	t.numPeers--
	t.session.metrics.Peers.Dec(1)
	if pe.Source == peersource.Incoming {
		t.numIncoming--
	}
	if err := pe.Err(); err != nil {
		pe.Logger().Debugln("disconnected:", err)
	}
	t.unchoker.HandleDisconnect(pe)
	delete(t.infoDownloaders, pe.Index)
	if t.picker != nil {
		t.releaseRequests(pe.Index)
		t.picker.HandleDisconnect(pe.Index)
	}
	t.publish(Event{Type: EventPeerCountChanged, Peers: t.numPeers})
	if t.dialCtx != nil {
		if t.status == Metadata {
			t.startInfoDownloaders()
		} else {
			t.requestBlocksAll()
		}
		t.dialAddresses()
	}
}

func (t *torrent) setNeedMorePeers(val bool) {
	if t.needMorePeers == val {
		return
	}
	t.needMorePeers = val
	for _, an := range t.announcers {
		// The announcer may be blocked sending us peers, so do not wait for it here.
		go an.NeedMorePeers(val)
	}
}

func (t *torrent) tickUnchoke() {
	peers := make([]unchoker.Peer, 0, t.numPeers)
	for _, pe := range t.peers {
		if pe != nil {
			peers = append(peers, pe)
		}
	}
	t.unchoker.TickUnchoke(peers, t.completed)
}
