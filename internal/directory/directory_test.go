package directory

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/identity"
)

const samplePage = `<html><body>
<table border=1>
<tr><th>Center</th><th>Status</th><th>Code</th></tr>
<tr><td>Alpha Dispatch</td><td>Active</td><td><a href="/incidents?dc_Name=CAANCC">CAANCC</a></td></tr>
<tr><td>Bravo Dispatch</td><td>Active</td><td><a href="https://other.test/b">ORJDCC</a></td></tr>
<tr><td>No Link Center</td><td>Inactive</td><td>none</td></tr>
<tr><td>Charlie Dispatch</td><td>Inactive</td><td><a href="c.asp">WAPCC</a></td></tr>
</table>
</body></html>`

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	args := m.Called(ctx, url)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFetcher) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	args := m.Called(ctx, url, header)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func TestParse_ThreeOfFourRows(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	centers, skipped, err := Parse(strings.NewReader(samplePage), "http://www.wildcad.net/WildCADWeb.asp", now)
	require.NoError(t, err)

	require.Len(t, centers, 3)
	require.Len(t, skipped, 1)
	assert.Equal(t, 3, skipped[0].Row)

	assert.Equal(t, "CAANCC", centers[0].Code)
	assert.Equal(t, "Alpha Dispatch", centers[0].Name)
	assert.Equal(t, "Active", centers[0].Status)
	assert.Equal(t, "CA", centers[0].State)
	assert.Equal(t, identity.CenterID("CAANCC"), centers[0].ID)
	assert.Equal(t, "http://www.wildcad.net/incidents?dc_Name=CAANCC", centers[0].SourceURL)
	assert.Equal(t, now, centers[0].LastUpdated)

	assert.Equal(t, "https://other.test/b", centers[1].SourceURL)
	assert.Equal(t, "http://www.wildcad.net/c.asp", centers[2].SourceURL)
	assert.Equal(t, "WA", centers[2].State)
}

func TestParse_NoTable(t *testing.T) {
	_, _, err := Parse(strings.NewReader("<html><body><p>maintenance</p></body></html>"), "", time.Now())
	var de *DiscoveryError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "no center table")
}

func TestParse_EmptyTableIsNotAnError(t *testing.T) {
	page := `<table border="1"><tr><th>a</th><th>b</th><th>c</th></tr></table>`
	centers, skipped, err := Parse(strings.NewReader(page), "", time.Now())
	require.NoError(t, err)
	assert.Empty(t, centers)
	assert.Empty(t, skipped)
}

func TestParse_FallbackTableWithoutBorder(t *testing.T) {
	page := `<table><tr><td>menu</td></tr></table>
<table><tr><th>h</th></tr><tr><td>Delta</td><td>Active</td><td><a href="d">IDBDC</a></td></tr></table>`
	centers, _, err := Parse(strings.NewReader(page), "http://x.test/", time.Now())
	require.NoError(t, err)
	require.Len(t, centers, 1)
	assert.Equal(t, "IDBDC", centers[0].Code)
}

func TestResolver_Resolve(t *testing.T) {
	f := new(mockFetcher)
	f.On("Download", mock.Anything, "http://dir.test/WildCADWeb.asp").
		Return(io.NopCloser(strings.NewReader(samplePage)), nil)

	clk := clockwork.NewFakeClockAt(time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC))
	r := NewResolver(f, "http://dir.test/WildCADWeb.asp", clk, zap.NewNop())

	centers, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, centers, 3)
	assert.Equal(t, clk.Now(), centers[0].LastUpdated)
	f.AssertExpectations(t)
}

func TestResolver_Resolve_FetchError(t *testing.T) {
	f := new(mockFetcher)
	f.On("Download", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	r := NewResolver(f, "http://dir.test/", nil, zap.NewNop())
	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestResolver_ResolveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.html")
	require.NoError(t, os.WriteFile(path, []byte(samplePage), 0o644))

	r := NewResolver(nil, "http://www.wildcad.net/WildCADWeb.asp", nil, zap.NewNop())
	centers, err := r.ResolveFile(path)
	require.NoError(t, err)
	assert.Len(t, centers, 3)
}

func TestResolver_ResolveFile_DiscoveryErrorNamesSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.html")
	require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0o644))

	r := NewResolver(nil, "", nil, zap.NewNop())
	_, err := r.ResolveFile(path)
	var de *DiscoveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, path, de.Source)
}
