//go:build ignore

// Command generate-sample-case writes a synthetic case folder for demos
// and ingest testing: deposition transcripts, email threads, and
// document files laid out the way the evidence inbox expects them.
//
// Usage: go run scripts/generate-sample-case.go -cases 3 -output testdata/inbox
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numCases  = flag.Int("cases", 2, "number of case folders to generate")
	perClass  = flag.Int("per-class", 5, "files per evidence class per case")
	outputDir = flag.String("output", "testdata/inbox", "inbox directory to populate")
	seed      = flag.Int64("seed", 7, "random seed for reproducible output")
)

var caseNumbers = []string{
	"2023-CV-1881", "2024-CV-0412", "2024-BK-7730", "2025-CV-0098", "2023-CR-5210",
}

var people = []string{
	"Marcus Webb", "Elena Vasquez", "Daniel Okafor", "Priya Sharma",
	"Thomas Lindqvist", "Rachel Odum", "Victor Hale", "Annette Crowe",
}

var topics = []string{
	"the wire transfer to the escrow account",
	"the Section 365 assumption of the supply contract",
	"the board vote on the asset sale",
	"the missing ledger entries for Q3",
	"the amended vendor agreement",
	"the site inspection on the Meridian property",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	for c := 0; c < *numCases; c++ {
		caseNum := caseNumbers[c%len(caseNumbers)]
		dir := filepath.Join(*outputDir, caseNum)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal(err)
		}

		for i := 0; i < *perClass; i++ {
			if err := writeTranscript(rng, dir, i); err != nil {
				fatal(err)
			}
			if err := writeEmail(rng, dir, i); err != nil {
				fatal(err)
			}
			if err := writeDocument(rng, dir, i); err != nil {
				fatal(err)
			}
		}
		fmt.Printf("generated case %s (%d files)\n", caseNum, *perClass*3)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func eventDate(rng *rand.Rand) time.Time {
	base := time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC)
	return base.AddDate(0, rng.Intn(24), rng.Intn(28))
}

func writeTranscript(rng *rand.Rand, dir string, index int) error {
	witness := pick(rng, people)
	topic := pick(rng, topics)
	date := eventDate(rng)

	content := fmt.Sprintf(`1
00:00:01,000 --> 00:00:06,500
Q: Please state your name for the record.

2
00:00:07,000 --> 00:00:09,800
A: %s.

3
00:00:10,200 --> 00:00:18,000
Q: On %s, did you discuss %s?

4
00:00:18,500 --> 00:00:24,000
A: Yes. %s raised it first, and I reviewed the figures afterward.

5
00:00:24,500 --> 00:00:31,000
Q: Who else was present at that meeting?

6
00:00:31,500 --> 00:00:36,000
A: %s and, I believe, %s.
`,
		witness,
		date.Format("January 2, 2006"),
		topic,
		pick(rng, people),
		pick(rng, people),
		pick(rng, people),
	)

	name := fmt.Sprintf("deposition-%s-%02d.srt", date.Format("2006-01-02"), index+1)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func writeEmail(rng *rand.Rand, dir string, index int) error {
	from := pick(rng, people)
	to := pick(rng, people)
	topic := pick(rng, topics)
	date := eventDate(rng)

	content := fmt.Sprintf(`From: %s <%s@example.com>
To: %s <%s@example.com>
Date: %s
Subject: Re: %s

%s,

Following up on %s. The numbers we discussed on %s do not match
the ledger, and I want this resolved before the filing deadline.

Can you confirm who approved the change?

%s
`,
		from, slug(from), to, slug(to),
		date.Format(time.RFC1123Z),
		topic,
		firstName(to),
		topic,
		date.AddDate(0, 0, -3).Format("2006-01-02"),
		firstName(from),
	)

	name := fmt.Sprintf("thread-%s-%02d.eml", date.Format("2006-01-02"), index+1)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func writeDocument(rng *rand.Rand, dir string, index int) error {
	author := pick(rng, people)
	topic := pick(rng, topics)
	date := eventDate(rng)

	content := fmt.Sprintf(`# Memorandum

Date: %s
Prepared by: %s

## Summary

This memorandum records the findings concerning %s. On %s the
review committee met and %s presented the supporting records.

## Findings

1. The transaction was recorded on %s.
2. %s signed the authorization.
3. The supporting invoice references %s.
`,
		date.Format("2006-01-02"),
		author,
		topic,
		date.Format("January 2, 2006"),
		pick(rng, people),
		date.AddDate(0, 0, -7).Format("2006-01-02"),
		pick(rng, people),
		pick(rng, topics),
	)

	name := fmt.Sprintf("memo-%s-%02d.md", date.Format("2006-01-02"), index+1)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func slug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z':
			out = append(out, r)
		case r == ' ':
			out = append(out, '.')
		}
	}
	return string(out)
}

func firstName(name string) string {
	for i, r := range name {
		if r == ' ' {
			return name[:i]
		}
	}
	return name
}
