package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	hits map[string][]Evidence
	fail map[string]bool
	seen []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]Evidence, error) {
	f.seen = append(f.seen, query)
	if f.fail[query] {
		return nil, errors.New("quota exceeded")
	}
	return f.hits[query], nil
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"Simple URL", "https://acmeplumbing.com", "acmeplumbing.com"},
		{"URL with www", "https://www.acmeplumbing.com", "acmeplumbing.com"},
		{"URL with path", "https://book.acmeplumbing.com/slots", "book.acmeplumbing.com"},
		{"URL without scheme", "acmeplumbing.com", "acmeplumbing.com"},
		{"Upper case", "https://AcmePlumbing.com", "acmeplumbing.com"},
		{"Empty URL", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractDomain(tt.url))
		})
	}
}

func TestIsFromDomain(t *testing.T) {
	assert.True(t, IsFromDomain("https://acmeplumbing.com/about", "acmeplumbing.com"))
	assert.True(t, IsFromDomain("https://book.acmeplumbing.com", "acmeplumbing.com"))
	assert.False(t, IsFromDomain("https://yelp.com/biz/acme", "acmeplumbing.com"))
	assert.False(t, IsFromDomain("https://notacmeplumbing.com", "acmeplumbing.com"))
	assert.False(t, IsFromDomain("", "acmeplumbing.com"))
}

func TestQueries(t *testing.T) {
	queries := Queries("Acme Plumbing", "https://www.acmeplumbing.com", "plumbing")
	assert.Equal(t, []string{
		"site:acmeplumbing.com services",
		`"Acme Plumbing" reviews`,
		`"Acme Plumbing" plumbing`,
		"top plumbing competitors",
	}, queries)

	assert.Empty(t, Queries("", "", ""))
}

func TestCollect_DedupesAndTagsSource(t *testing.T) {
	s := &fakeSearcher{hits: map[string][]Evidence{
		"site:acmeplumbing.com services": {
			{Title: "Services", Link: "https://acmeplumbing.com/services"},
		},
		`"Acme Plumbing" reviews`: {
			{Title: "Acme on Yelp", Link: "https://yelp.com/biz/acme"},
			{Title: "Services", Link: "https://acmeplumbing.com/services"},
		},
	}}

	evidence, err := Collect(context.Background(), s, "Acme Plumbing", "acmeplumbing.com", "plumbing")
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, SourceOwned, evidence[0].Source)
	assert.Equal(t, "site:acmeplumbing.com services", evidence[0].Query)
	assert.Equal(t, SourceThirdParty, evidence[1].Source)
	assert.Len(t, s.seen, 4)
}

func TestCollect_PartialFailureIsTolerated(t *testing.T) {
	s := &fakeSearcher{
		hits: map[string][]Evidence{
			"top plumbing competitors": {{Link: "https://example.com/list"}},
		},
		fail: map[string]bool{`"Acme" reviews`: true},
	}

	evidence, err := Collect(context.Background(), s, "Acme", "", "plumbing")
	require.NoError(t, err)
	assert.Len(t, evidence, 1)
}

func TestCollect_AllQueriesFail(t *testing.T) {
	s := &fakeSearcher{fail: map[string]bool{"top dentistry competitors": true}}

	_, err := Collect(context.Background(), s, "", "", "dentistry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewGoogleSearcher_RequiresCredentials(t *testing.T) {
	_, err := NewGoogleSearcher(context.Background(), "", "cx")
	assert.Error(t, err)
}
