package view

import "github.com/efebarandurmaz/giftmap/internal/graph"

// GiftTally is an aggregated gift relationship with one counterpart.
type GiftTally struct {
	Counterpart   string `json:"counterpart"`
	CounterpartID string `json:"counterpart_id"`
	Count         int    `json:"count"`
}

// EntityRecord is the display-ready view of one account.
type EntityRecord struct {
	ID              string      `json:"id"`
	Label           string      `json:"label"`
	Bio             string      `json:"bio,omitempty"`
	Bot             bool        `json:"bot,omitempty"`
	Role            Role        `json:"role"`
	Channels        []string    `json:"channels"`
	GiftsSent       []GiftTally `json:"gifts_sent"`
	GiftsReceived   []GiftTally `json:"gifts_received"`
	TotalSent       int         `json:"total_sent"`
	TotalReceived   int         `json:"total_received"`
	DiscoveredVia   string      `json:"discovered_via,omitempty"`
	DiscoveredViaID string      `json:"discovered_via_id,omitempty"`
}

// Project builds one record per account, in account creation order, with a
// single pass over the edges. Identical snapshots yield identical records.
func Project(snap graph.Snapshot) []EntityRecord {
	labels := make(map[string]string, len(snap.Nodes))
	index := make(map[string]int)
	records := make([]EntityRecord, 0, len(snap.Nodes))

	for _, n := range snap.Nodes {
		labels[n.ID] = n.Label
		if n.Kind != graph.KindAccount {
			continue
		}
		index[n.ID] = len(records)
		records = append(records, EntityRecord{
			ID:            n.ID,
			Label:         n.Label,
			Bio:           n.Bio,
			Bot:           n.Bot,
			Channels:      []string{},
			GiftsSent:     []GiftTally{},
			GiftsReceived: []GiftTally{},
		})
	}

	for _, e := range snap.Edges {
		from, ok := index[e.From]
		if !ok {
			continue
		}
		switch e.Kind {
		case graph.EdgeMembership:
			records[from].Channels = append(records[from].Channels, labels[e.To])
		case graph.EdgeGift:
			to, ok := index[e.To]
			if !ok {
				continue
			}
			records[from].GiftsSent = append(records[from].GiftsSent, GiftTally{
				Counterpart: labels[e.To], CounterpartID: e.To, Count: e.Weight,
			})
			records[from].TotalSent += e.Weight
			records[to].GiftsReceived = append(records[to].GiftsReceived, GiftTally{
				Counterpart: labels[e.From], CounterpartID: e.From, Count: e.Weight,
			})
			records[to].TotalReceived += e.Weight
		}
	}

	for _, n := range snap.Nodes {
		i, ok := index[n.ID]
		if !ok {
			continue
		}
		rec := &records[i]
		rec.Role = Classify(n, len(rec.GiftsSent) > 0)
		if n.Provenance != "" {
			rec.DiscoveredViaID = n.Provenance
			rec.DiscoveredVia = labels[n.Provenance]
		}
	}
	return records
}

// Find returns the record with the given id.
func Find(records []EntityRecord, id string) (EntityRecord, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return EntityRecord{}, false
}
