package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `
<html><body>
<div class="search-results">
  <a class="caseLink" href="/Portal/Home/WorkspaceMode?caseId=ABC123">
    <span class="block-link__primary">25CR123456-789</span>
  </a>
  <a class="caseLink" href="/Portal/CaseDetail/DEF456">
    <span class="block-link__primary">24CV000111</span>
  </a>
  <a class="otherLink" href="/Portal/Help">help</a>
</div>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	links, err := ParseSearchResults([]byte(resultsPage))
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, CaseLink{CaseID: "ABC123", CaseNumber: "25CR123456-789"}, links[0])
	assert.Equal(t, CaseLink{CaseID: "DEF456", CaseNumber: "24CV000111"}, links[1])
}

func TestParseSearchResultsEmpty(t *testing.T) {
	links, err := ParseSearchResults([]byte(`<html><body><p>No cases match your search.</p></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestParseSearchResultsBusySentinel(t *testing.T) {
	page := `<html><body><p>We are having trouble processing your request. Please try again later.</p></body></html>`
	_, err := ParseSearchResults([]byte(page))
	assert.ErrorIs(t, err, ErrPortalBusy)
}

func TestParseSearchResultsSkipsAnchorsWithoutNumber(t *testing.T) {
	page := `<html><body>
	<a class="caseLink" href="/Portal/CaseDetail/XYZ"><span class="block-link__primary"></span></a>
	<a class="caseLink"><span class="block-link__primary">25CR1</span></a>
	</body></html>`
	links, err := ParseSearchResults([]byte(page))
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestCaseIDFromHref(t *testing.T) {
	test := func(href, expected string) func(*testing.T) {
		return func(t *testing.T) {
			assert.Equal(t, expected, caseIDFromHref(href))
		}
	}
	t.Run("caseId param", test("/Portal/Home/WorkspaceMode?caseId=ABC123", "ABC123"))
	t.Run("id param", test("/Portal/CaseDetail?id=XYZ", "XYZ"))
	t.Run("path segment", test("/Portal/CaseDetail/DEF456", "DEF456"))
	t.Run("trailing slash", test("/Portal/CaseDetail/DEF456/", "DEF456"))
	t.Run("no id", test("", ""))
}
