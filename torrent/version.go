package torrent

// Version of the client. Sent to trackers and peers.
const Version = "0.1.0"

// peerIDPrefix identifies the client in peer ids, BEP 20 style.
const peerIDPrefix = "-DZ0100-"
