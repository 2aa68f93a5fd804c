package storage

import (
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

const ResourceScheme = "comparison://"

// CalculateResourcePaths lists the resource URIs available for a stored run.
func CalculateResourcePaths(info models.RunInfo) []string {
	paths := []string{
		fmt.Sprintf("%s%s", ResourceScheme, info.RunID),
		fmt.Sprintf("%s%s/report", ResourceScheme, info.RunID),
	}
	if info.HasPDF {
		paths = append(paths, fmt.Sprintf("%s%s/pdf", ResourceScheme, info.RunID))
	}
	if info.HasReferencePDF {
		paths = append(paths, fmt.Sprintf("%s%s/reference-pdf", ResourceScheme, info.RunID))
	}
	return paths
}

// ParseResourceURI splits comparison://{runId}[/{part}] into its run id and
// part ("" for the summary).
func ParseResourceURI(uri string) (runID, part string, err error) {
	rest, ok := strings.CutPrefix(uri, ResourceScheme)
	if !ok {
		return "", "", fmt.Errorf("invalid URI format: %s", uri)
	}
	runID, part, _ = strings.Cut(rest, "/")
	if runID == "" {
		return "", "", fmt.Errorf("invalid URI format: missing run id in %s", uri)
	}
	switch part {
	case "", "report", "pdf", "reference-pdf":
		return runID, part, nil
	default:
		return "", "", fmt.Errorf("unknown resource %q for run %s", part, runID)
	}
}
