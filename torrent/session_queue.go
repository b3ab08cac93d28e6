package torrent

import (
	"sort"
	"time"
)

// schedule asks the scheduler to run a pass. It never blocks so it can be called from torrent run loops.
func (s *Session) schedule() {
	select {
	case s.scheduleC <- struct{}{}:
	default:
	}
}

func (s *Session) scheduler() {
	defer s.wg.Done()
	for {
		select {
		case <-s.scheduleC:
			s.runSchedule()
		case <-s.closeC:
			return
		}
	}
}

type queueEntry struct {
	torrent       *Torrent
	status        Status
	completed     bool
	queuePriority int
	addedAt       time.Time
}

// active entries hold a download slot.
func (e queueEntry) active() bool {
	if e.completed {
		return false
	}
	switch e.status {
	case Checking, Metadata, Downloading:
		return true
	}
	return false
}

// sortQueue orders entries by the order they get download slots.
func sortQueue(entries []queueEntry, order string) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if order == QueueOrderPriority && a.queuePriority != b.queuePriority {
			return a.queuePriority > b.queuePriority
		}
		if !a.addedAt.Equal(b.addedAt) {
			return a.addedAt.After(b.addedAt)
		}
		return a.torrent.ID() < b.torrent.ID()
	})
}

// runSchedule starts completed torrents for seeding and gives free download slots to
// queued torrents in queue order. Torrents already holding a slot are never stopped here.
func (s *Session) runSchedule() {
	s.mSchedule.Lock()
	defer s.mSchedule.Unlock()

	torrents := s.ListTorrents()
	entries := make([]queueEntry, 0, len(torrents))
	for _, t := range torrents {
		started, priority := t.queueKey()
		if !started {
			continue
		}
		entries = append(entries, queueEntry{
			torrent:       t,
			status:        t.torrent.Status(),
			completed:     t.torrent.Completed(),
			queuePriority: priority,
			addedAt:       t.AddedAt(),
		})
	}
	sortQueue(entries, s.config.QueueOrder)

	var active int
	for _, e := range entries {
		if e.active() {
			active++
		}
	}
	for _, e := range entries {
		switch {
		case e.status == Error, e.active():
			continue
		case e.completed:
			if !e.status.running() {
				e.torrent.torrent.Start()
			}
		case s.config.MaxActiveDownloads == 0 || active < s.config.MaxActiveDownloads:
			s.log.Debugf("starting torrent %s", e.torrent.ID())
			e.torrent.torrent.Start()
			active++
		case e.status != Queued:
			e.torrent.torrent.Queue()
		}
	}
}
