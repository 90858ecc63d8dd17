package directory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nurealazmie002/santri-billing-core/services"
)

// HTTPDirectory reads student identities from the roster service. The
// roster itself is outside this core; only display-name enrichment ever
// goes through here.
type HTTPDirectory struct {
	baseURL string
	http    *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDirectory) GetStudent(id string) (*services.Student, error) {
	resp, err := d.http.Get(d.baseURL + "/api/v1/students/" + id)
	if err != nil {
		return nil, fmt.Errorf("student directory unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("student %s lookup failed: status %d", id, resp.StatusCode)
	}

	var s services.Student
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode student %s: %w", id, err)
	}
	return &s, nil
}
