package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trial-atlas/providers"
)

const efetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>98765</PMID>
      <Article>
        <Journal>
          <JournalIssue><PubDate><Year>2024</Year><Month>Jan</Month><Day>03</Day></PubDate></JournalIssue>
          <Title>The Lancet</Title>
        </Journal>
        <ArticleTitle>KRAS inhibition in PDAC</ArticleTitle>
        <ELocationID EIdType="doi" ValidYN="Y">10.1000/XYZ</ELocationID>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>11111</PMID>
      <Article>
        <Journal>
          <JournalIssue><PubDate><MedlineDate>2023 Nov-Dec</MedlineDate></PubDate></JournalIssue>
          <ISOAbbreviation>J Clin Oncol</ISOAbbreviation>
        </Journal>
        <ArticleTitle>Second article</ArticleTitle>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">11111</ArticleId>
        <ArticleId IdType="doi">10.2000/abc</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := providers.NewClient(providers.ClientOptions{Retry: providers.RetryConfig{MaxAttempts: 2}})
	return NewFetcher(Options{BaseURL: srv.URL + "/", Tool: "trial-atlas", APIKey: "k"}, client, zap.NewNop())
}

func TestSearchFiltersNonNumericIDs(t *testing.T) {
	var gotQuery string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esearch.fcgi", r.URL.Path)
		gotQuery = r.URL.Query().Get("term")
		assert.Equal(t, "5", r.URL.Query().Get("retmax"))
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"3","idlist":["12345","abc"," 67890 ",""]}}`))
	})

	ids, err := f.Search(context.Background(), "NCT12345678[si]", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"12345", "67890"}, ids)
	assert.Equal(t, "NCT12345678[si]", gotQuery)
}

func TestSummariesParsesEFetch(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/efetch.fcgi", r.URL.Path)
		assert.Equal(t, "98765,11111", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(efetchXML))
	})

	got, err := f.Summaries(context.Background(), []string{"98765", "11111"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got["98765"]
	assert.Equal(t, "KRAS inhibition in PDAC", first.Title)
	assert.Equal(t, "The Lancet", first.Journal)
	assert.Equal(t, "2024-01-03", first.PublicationDate)
	assert.Equal(t, "10.1000/xyz", first.DOI)

	second := got["11111"]
	assert.Equal(t, "J Clin Oncol", second.Journal)
	assert.Equal(t, "2023", second.PublicationDate)
	assert.Equal(t, "10.2000/abc", second.DOI)
}

func TestSummariesRetriesTransientStatus(t *testing.T) {
	calls := 0
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(efetchXML))
	})

	got, err := f.Summaries(context.Background(), []string{"98765"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, calls)
}

func TestSearchReportsPermanentError(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad term"))
	})

	_, err := f.Search(context.Background(), "x", 5)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"))
}

func TestFormatPubDate(t *testing.T) {
	assert.Equal(t, "2024-01-03", formatPubDate(PubDate{Year: "2024", Month: "Jan", Day: "3"}))
	assert.Equal(t, "2024-02", formatPubDate(PubDate{Year: "2024", Month: "2"}))
	assert.Equal(t, "2024", formatPubDate(PubDate{Year: "2024"}))
	assert.Equal(t, "2021-03", formatPubDate(PubDate{MedlineDate: "2021 Mar"}))
}
