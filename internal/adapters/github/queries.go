package github

import (
	"fmt"
	"strings"
	"time"
)

const totalsQuery = `
query($login: String!, $after: String) {
  user(login: $login) {
    contributionsCollection {
      contributionYears
    }
    repositories(first: 100, after: $after, ownerAffiliations: OWNER, isFork: false) {
      pageInfo { hasNextPage endCursor }
      nodes { stargazerCount }
    }
  }
}`

const windowQuery = `
query($login: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $login) {
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar { totalContributions }
    }
  }
}`

const mergedQuery = `
query($login: String!, $first: Int!, $after: String) {
  user(login: $login) {
    pullRequests(states: MERGED, first: $first, after: $after, orderBy: {field: UPDATED_AT, direction: DESC}) {
      totalCount
      pageInfo { hasNextPage endCursor }
      nodes { mergedAt }
    }
  }
}`

// yearsQuery builds one aliased contributionsCollection per calendar year,
// since a single collection spans at most a year.
func yearsQuery(years []int) string {
	var b strings.Builder
	b.WriteString("query($login: String!) {\n  user(login: $login) {\n")
	for _, y := range years {
		from := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(1, 0, 0).Add(-time.Second)
		fmt.Fprintf(&b, "    y%d: contributionsCollection(from: %q, to: %q) { contributionCalendar { totalContributions } }\n",
			y, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	b.WriteString("  }\n}")
	return b.String()
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

type contributionCollection struct {
	ContributionYears    []int `json:"contributionYears"`
	ContributionCalendar struct {
		TotalContributions int64 `json:"totalContributions"`
	} `json:"contributionCalendar"`
}

type totalsData struct {
	User *struct {
		ContributionsCollection contributionCollection `json:"contributionsCollection"`
		Repositories            struct {
			PageInfo pageInfo `json:"pageInfo"`
			Nodes    []struct {
				StargazerCount int64 `json:"stargazerCount"`
			} `json:"nodes"`
		} `json:"repositories"`
	} `json:"user"`
}

type windowData struct {
	User *struct {
		ContributionsCollection contributionCollection `json:"contributionsCollection"`
	} `json:"user"`
}

type yearsData struct {
	User map[string]contributionCollection `json:"user"`
}

type mergedData struct {
	User *struct {
		PullRequests struct {
			TotalCount int64    `json:"totalCount"`
			PageInfo   pageInfo `json:"pageInfo"`
			Nodes      []struct {
				MergedAt *time.Time `json:"mergedAt"`
			} `json:"nodes"`
		} `json:"pullRequests"`
	} `json:"user"`
}
