//go:build !gcp

package artifacts

import (
	"context"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	_ = ctx
	return nil, fault.Invalidf(CodeBadCID, "GCS storage is not enabled in this build (use -tags gcp)")
}
