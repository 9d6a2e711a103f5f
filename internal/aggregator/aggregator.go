package aggregator

import (
	"sort"
	"strings"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Stage2 counts pull requests per author. Rows are sorted by count descending,
// then author ascending. Applying it to its own expansion yields the same rows.
func Stage2(records []domain.PullRequestRecord) []domain.AuthorCount {
	index := make(map[string]int)
	var counts []domain.AuthorCount

	for _, r := range records {
		i, ok := index[r.Login]
		if !ok {
			index[r.Login] = len(counts)
			counts = append(counts, domain.AuthorCount{Author: r.Login, ID: r.UserID})
			i = len(counts) - 1
		}
		counts[i].Count++
	}

	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Author < counts[j].Author
	})
	return counts
}

// Stage3 groups authors by their pull count: each bucket says how many developers
// opened exactly Count pulls. Buckets are sorted by Count ascending.
func Stage3(counts []domain.AuthorCount) []domain.HistogramBucket {
	developers := make(map[int]int)
	for _, c := range counts {
		developers[c.Count]++
	}

	buckets := make([]domain.HistogramBucket, 0, len(developers))
	for count, devs := range developers {
		buckets = append(buckets, domain.HistogramBucket{Developers: devs, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Count < buckets[j].Count
	})
	return buckets
}

// DriveBy returns the authors with exactly one pull request, in input order
func DriveBy(counts []domain.AuthorCount) []domain.DriveByAuthor {
	var authors []domain.DriveByAuthor
	for _, c := range counts {
		if c.Count == 1 {
			authors = append(authors, domain.DriveByAuthor{Author: c.Author, ID: c.ID})
		}
	}
	return authors
}

// GroupByState splits stage-1 rows by their PR STATE label
func GroupByState(records []domain.PullRequestRecord) map[domain.PullState][]domain.PullRequestRecord {
	groups := make(map[domain.PullState][]domain.PullRequestRecord)
	for _, r := range records {
		st, ok := domain.ParsePullState(r.State)
		if !ok {
			continue
		}
		groups[st] = append(groups[st], r)
	}
	return groups
}

// Summarize counts the rows of every state, in collection order. States without
// rows are reported with zero counts.
func Summarize(records []domain.PullRequestRecord) []domain.StateSummary {
	groups := GroupByState(records)
	var summary []domain.StateSummary
	for _, st := range domain.AllPullStates() {
		counts := Stage2(groups[st])
		summary = append(summary, domain.StateSummary{
			State:   st,
			Pulls:   len(groups[st]),
			Authors: len(counts),
			DriveBy: len(DriveBy(counts)),
		})
	}
	return summary
}

// CommitAuthors aggregates commits by lower-cased email. The first commit seen for
// an email supplies the name and account id; output keeps first-seen order.
func CommitAuthors(commits []domain.CommitRecord) []domain.CommitAuthor {
	index := make(map[string]int)
	var authors []domain.CommitAuthor

	for _, c := range commits {
		email := strings.ToLower(c.Email)
		i, ok := index[email]
		if !ok {
			index[email] = len(authors)
			authors = append(authors, domain.CommitAuthor{
				Email: email,
				Name:  strings.ToLower(c.Name),
				ID:    c.AuthorID,
			})
			i = len(authors) - 1
		}
		if authors[i].ID == 0 && c.AuthorID != 0 {
			authors[i].ID = c.AuthorID
		}
		authors[i].Commits++
	}
	return authors
}

// DriveByCommitAuthors keeps the authors with exactly one commit
func DriveByCommitAuthors(authors []domain.CommitAuthor) []domain.CommitAuthor {
	var out []domain.CommitAuthor
	for _, a := range authors {
		if a.Commits == 1 {
			out = append(out, a)
		}
	}
	return out
}

// UserIDs returns the distinct author ids of the rows, in first-seen order
func UserIDs(records []domain.PullRequestRecord) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, r := range records {
		if r.UserID == 0 || seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		ids = append(ids, r.UserID)
	}
	return ids
}
