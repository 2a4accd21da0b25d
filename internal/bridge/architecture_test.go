package bridge

import (
	"testing"

	"reactorboard/testutil"
)

func TestBridgeIsTransportAgnostic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.PrefixForbidden(
		"github.com/eclipse/paho.mqtt.golang",
		"reactorboard/internal/infra/transport",
	), "publishing goes through the Publisher interface")
}
