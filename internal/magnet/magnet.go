// Package magnet parses magnet links.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/multiformats/go-multihash"
)

// Magnet holds what is needed to fetch a torrent's metadata from peers.
type Magnet struct {
	InfoHash [20]byte
	Name     string
	Trackers [][]string
	Peers    []string
}

// New parses a "magnet:?xt=..." link.
func New(s string) (*Magnet, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, errors.New("not a magnet link")
	}
	params := u.Query()
	xts := params["xt"]
	if len(xts) == 0 {
		return nil, errors.New("missing xt param")
	}
	var m Magnet
	for _, xt := range xts {
		m.InfoHash, err = parseExactTopic(xt)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	m.Name = params.Get("dn")

	type tier struct {
		trackers []string
		index    int
	}
	var tiers []tier
	for key, values := range params {
		switch {
		case key == "tr":
			// Plain "tr" params each form their own tier, ahead of numbered ones.
			for i, tr := range values {
				tiers = append(tiers, tier{trackers: []string{tr}, index: i - len(values)})
			}
		case strings.HasPrefix(key, "tr."):
			if n, err := strconv.Atoi(key[3:]); err == nil && n >= 0 {
				tiers = append(tiers, tier{trackers: values, index: n})
			}
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].index < tiers[j].index })
	for _, t := range tiers {
		m.Trackers = append(m.Trackers, t.trackers)
	}
	m.Peers = params["x.pe"]
	return &m, nil
}

// String encodes the magnet back to a link.
func (m *Magnet) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hex.EncodeToString(m.InfoHash[:]))
	if m.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(m.Name))
	}
	for i, t := range m.Trackers {
		for _, tr := range t {
			if len(t) == 1 {
				b.WriteString("&tr=")
			} else {
				b.WriteString("&tr." + strconv.Itoa(i) + "=")
			}
			b.WriteString(url.QueryEscape(tr))
		}
	}
	for _, p := range m.Peers {
		b.WriteString("&x.pe=")
		b.WriteString(p)
	}
	return b.String()
}

func parseExactTopic(xt string) ([20]byte, error) {
	var ih [20]byte
	switch {
	case strings.HasPrefix(xt, "urn:btih:"):
		s := xt[len("urn:btih:"):]
		var b []byte
		var err error
		switch len(s) {
		case 40:
			b, err = hex.DecodeString(s)
		case 32:
			b, err = base32.StdEncoding.DecodeString(strings.ToUpper(s))
		default:
			return ih, errors.New("info hash must be 32 or 40 characters")
		}
		if err != nil {
			return ih, err
		}
		copy(ih[:], b)
		return ih, nil
	case strings.HasPrefix(xt, "urn:btmh:"):
		b, err := multihash.FromHexString(xt[len("urn:btmh:"):])
		if err != nil {
			return ih, err
		}
		dm, err := multihash.Decode(b)
		if err != nil {
			return ih, err
		}
		if dm.Code != multihash.SHA1 || len(dm.Digest) != len(ih) {
			return ih, errors.New("unsupported multihash: only sha1 info hashes are supported")
		}
		copy(ih[:], dm.Digest)
		return ih, nil
	default:
		return ih, errors.New(`invalid xt param: must start with "urn:btih:" or "urn:btmh:"`)
	}
}
