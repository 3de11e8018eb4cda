package analysis

import (
	"testing"

	"onebreath/testutil"
)

func TestAnalysisStaysProviderAgnostic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.Any(testutil.LLMSDKs, testutil.Under("onebreath/internal/llm")),
		"summarizers are injected through the Summarizer interface")
}

func TestAnalysisHasNoDriverOrSDKDependency(t *testing.T) {
	if testing.Short() {
		t.Skip("shells out to go list")
	}
	testutil.AssertNoTransitiveDependency(t, ".", testutil.Any(testutil.StoreDrivers, testutil.LLMSDKs),
		"analysis reads records through domain.AnalysisSource")
}
