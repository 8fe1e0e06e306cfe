package scan

import (
	"context"
	"errors"

	"complaint-auditor/internal/gateway"
	"complaint-auditor/pkg/models"
)

// DriveSnapshotSource captures the dedup filename snapshot from the
// screenshot store, honoring the folder layout of the active mode.
type DriveSnapshotSource struct {
	Drive *gateway.Drive
}

func (s *DriveSnapshotSource) SnapshotFilenames(ctx context.Context, req models.ScanRequest) ([]string, error) {
	base, err := s.Drive.FindOrCreateFolder(ctx, req.StorageRootID, gateway.ComplaintsFolder)
	if err != nil {
		return nil, err
	}
	if req.Mode != models.ModeByProduct {
		return s.Drive.ListFilenames(ctx, base)
	}

	var names []string
	for _, productID := range req.ProductIDs {
		folderID, err := s.Drive.FindFolder(ctx, base, productID)
		if errors.Is(err, gateway.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found, err := s.Drive.ListFilenames(ctx, folderID)
		if err != nil {
			return nil, err
		}
		names = append(names, found...)
	}
	return names, nil
}
