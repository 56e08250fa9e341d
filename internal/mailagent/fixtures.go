// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package mailagent is the demo mail agent. It serves fixture emails from
// the local sync store so the platform runs end to end without any real
// mail provider.
package mailagent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hearth-labs/hearth/pkg/syncer"
)

// Email is the payload stored per mail record.
type Email struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// Collection is the sync collection this agent reads.
const Collection = "mail"

var fixtureEmails = []Email{
	{
		ID: "m-001", From: "ana@serrano.family", To: "me@localhost",
		Subject: "Dinner on Saturday?",
		Body:    "Hola! Are you free this Saturday around 7? Thinking paella at our place.",
	},
	{
		ID: "m-002", From: "billing@cloudbox.example", To: "me@localhost",
		Subject: "Your invoice for August",
		Body:    "Your invoice INV-2041 for 12.99 is attached. Payment is due in 14 days.",
	},
	{
		ID: "m-003", From: "devteam@workmail.example", To: "me@localhost",
		Subject: "Project X standup moved to 10:30",
		Body:    "Heads up, tomorrow's Project X standup moves to 10:30 in the usual room.",
	},
	{
		ID: "m-004", From: "no-reply@transit.example", To: "me@localhost",
		Subject: "Your monthly pass expires soon",
		Body:    "Your transit pass expires on the 31st. Renew online to avoid the queue.",
	},
	{
		ID: "m-005", From: "marta@bookclub.example", To: "me@localhost",
		Subject: "Next book: The Left Hand of Darkness",
		Body:    "We picked the next book! Meeting is in three weeks, usual cafe.",
	},
	{
		ID: "m-006", From: "devteam@workmail.example", To: "me@localhost",
		Subject: "Project X retro notes",
		Body:    "Notes from the retro are up. Main action: cut the deploy time in half.",
	},
}

// FixtureFetcher implements syncer.Fetcher over the built-in demo mailbox.
type FixtureFetcher struct {
	base time.Time
}

// NewFixtureFetcher anchors fixture dates relative to now so recency
// queries behave sensibly.
func NewFixtureFetcher() *FixtureFetcher {
	return &FixtureFetcher{base: time.Now()}
}

// Collections implements syncer.Fetcher.
func (f *FixtureFetcher) Collections() []string { return []string{Collection} }

// Fetch implements syncer.Fetcher. Fixtures never change, so incremental
// passes return nothing.
func (f *FixtureFetcher) Fetch(ctx context.Context, collection string, since time.Time) ([]syncer.Record, error) {
	if collection != Collection || !since.IsZero() {
		return nil, nil
	}

	records := make([]syncer.Record, 0, len(fixtureEmails))
	for i, email := range fixtureEmails {
		email.Date = f.base.Add(-time.Duration(i*7+2) * time.Hour)
		payload, err := json.Marshal(email)
		if err != nil {
			return nil, err
		}
		records = append(records, syncer.Record{
			ID:        email.ID,
			Payload:   payload,
			Timestamp: email.Date,
		})
	}
	return records, nil
}
