package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/adscope/models"
)

// ImportCSV bulk-loads work items from CSV. The header must contain a
// creative_ref column; advertiser_ref is optional. Every imported row
// becomes a PENDING item with a fresh id. Returns the number imported.
func (b *Backlog) ImportCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("store: read csv header: %w", err)
	}

	creativeCol, advertiserCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "creative_ref":
			creativeCol = i
		case "advertiser_ref":
			advertiserCol = i
		}
	}
	if creativeCol < 0 {
		return 0, fmt.Errorf("store: csv header missing creative_ref column: %v", header)
	}

	var items []models.WorkItem
	now := time.Now()
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("store: read csv row: %w", err)
		}

		creative := strings.TrimSpace(row[creativeCol])
		if creative == "" {
			continue
		}
		it := models.WorkItem{
			ID:          uuid.NewString(),
			CreativeRef: creative,
			Status:      models.StatusPending,
			CreatedAt:   now,
		}
		if advertiserCol >= 0 && advertiserCol < len(row) {
			it.AdvertiserRef = strings.TrimSpace(row[advertiserCol])
		}
		items = append(items, it)
	}

	if err := b.Enqueue(items); err != nil {
		return 0, err
	}
	return len(items), nil
}
