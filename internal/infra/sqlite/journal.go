package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/tutu-network/peerlink/internal/domain"
)

var _ domain.Journal = (*DB)(nil)

// ─── Peer Journal ───────────────────────────────────────────────────────────

// RecordPeerEvent appends ev to the journal and refreshes the peer's
// summary row. Only phase-changing kinds overwrite the stored phase.
func (d *DB) RecordPeerEvent(ev domain.PeerEvent) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := ev.At.UnixMilli()
	if _, err := tx.Exec(
		`INSERT INTO peer_events (at, peer_id, display_name, kind, phase)
		 VALUES (?, ?, ?, ?, ?)`,
		at, ev.Peer.ID, ev.Peer.DisplayName, string(ev.Kind), ev.Phase.Token(),
	); err != nil {
		return fmt.Errorf("insert peer event: %w", err)
	}

	var phase sql.NullString
	if ev.Kind.ChangesPhase() {
		phase = sql.NullString{String: ev.Phase.Token(), Valid: true}
	}
	if _, err := tx.Exec(
		`INSERT INTO peers (id, display_name, phase, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			display_name=excluded.display_name,
			phase=COALESCE(excluded.phase, peers.phase),
			last_seen=excluded.last_seen`,
		ev.Peer.ID, ev.Peer.DisplayName, phase, at, at,
	); err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}

	return tx.Commit()
}

// KnownPeers returns every journaled peer, most recently seen first.
func (d *DB) KnownPeers() ([]domain.KnownPeer, error) {
	rows, err := d.db.Query(
		`SELECT id, display_name, phase, first_seen, last_seen
		 FROM peers ORDER BY last_seen DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []domain.KnownPeer
	for rows.Next() {
		p, err := scanKnownPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// PeerHistory returns up to limit journal entries, newest first.
// A non-positive limit returns everything.
func (d *DB) PeerHistory(limit int) ([]domain.PeerEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := d.db.Query(
		`SELECT id, at, peer_id, display_name, kind, phase
		 FROM peer_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.PeerEvent
	for rows.Next() {
		ev, err := scanPeerEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanKnownPeer(s scanner) (domain.KnownPeer, error) {
	var (
		p                   domain.KnownPeer
		phase               sql.NullString
		firstSeen, lastSeen int64
	)
	if err := s.Scan(&p.Peer.ID, &p.Peer.DisplayName, &phase, &firstSeen, &lastSeen); err != nil {
		return domain.KnownPeer{}, err
	}
	if phase.Valid {
		parsed, err := domain.ParsePhase(phase.String)
		if err != nil {
			return domain.KnownPeer{}, err
		}
		p.Phase, p.HasPhase = parsed, true
	}
	p.FirstSeen = unixMilli(firstSeen)
	p.LastSeen = unixMilli(lastSeen)
	return p, nil
}

func scanPeerEvent(s scanner) (domain.PeerEvent, error) {
	var (
		ev          domain.PeerEvent
		at          int64
		kind, phase string
	)
	if err := s.Scan(&ev.ID, &at, &ev.Peer.ID, &ev.Peer.DisplayName, &kind, &phase); err != nil {
		return domain.PeerEvent{}, err
	}
	parsed, err := domain.ParsePhase(phase)
	if err != nil {
		return domain.PeerEvent{}, err
	}
	ev.At = unixMilli(at)
	ev.Kind = domain.PeerEventKind(kind)
	ev.Phase = parsed
	return ev, nil
}
