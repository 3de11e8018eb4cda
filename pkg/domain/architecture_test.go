package domain_test

import (
	"testing"

	"onebreath/testutil"
)

func TestDomainImportsOnlyStandardLibrary(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.Any(testutil.Internal, testutil.ThirdParty),
		"domain types are shared by every layer and must not pull in infrastructure")
}
