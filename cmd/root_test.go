package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const standingsPage = `<html><head><title>2020 Standings</title></head>
<body><div id="all_standings"><table><tr><td>MIL</td></tr></table></div></body></html>`

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	body := fmt.Sprintf(`
source:
  base_url: %q
crawler:
  fetch_mode: static
  requests_per_second: 0
http:
  respect_robots: false
retry:
  max_retries: 1
  base_delay: 0s
storage:
  backend: memory
logging:
  development: false
  level: error
`, baseURL)
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCommandListsJobs(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "https://stats.example.com")
	out, err := execute(t, "plan", "--config", cfg,
		"--first", "2020", "--last", "2020",
		"--categories", "standings,awards", "--skip-refresh")
	require.NoError(t, err)

	assert.Contains(t, out, "2020/standings")
	assert.Contains(t, out, "https://stats.example.com/leagues/NBA_2020_standings.html")
	assert.Contains(t, out, "#all_standings")
	assert.Contains(t, out, "team_standings/NBA_Season_2020_Standings.html")
	assert.Contains(t, out, "nba_awards/NBA_Awards_2020_all_mvp_voting.html")
	assert.Contains(t, out, "8 jobs")
}

func TestPlanCommandRejectsBadFlags(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "https://stats.example.com")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown category", args: []string{"--categories", "box_scores"}, want: "box_scores"},
		{name: "inverted range", args: []string{"--first", "2020", "--last", "2019"}, want: "before first_period"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, append([]string{"plan", "--config", cfg}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantOut string
		wantErr string
	}{
		{
			name: "stores the fragment",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(standingsPage))
			},
			wantOut: "memory://team_standings/NBA_Season_2020_Standings.html",
		},
		{
			name: "exits non-zero when a job fails",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantOut: "failed 2020/standings after 1 attempts",
			wantErr: "1 of 1 jobs failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			source := httptest.NewServer(tt.handler)
			t.Cleanup(source.Close)

			out, err := execute(t, "run", "--config", writeConfig(t, source.URL),
				"--first", "2020", "--last", "2020",
				"--categories", "standings", "--skip-refresh")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out, tt.wantOut)
		})
	}
}
