package services

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// PhotoStore uploads attendance photos and returns their public URL.
type PhotoStore interface {
	UploadPhoto(ctx context.Context, content io.Reader, folder, publicID string) (string, error)
}

type CloudinaryService struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryService(cloudName, apiKey, apiSecret string) (*CloudinaryService, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryService{
		cld: cld,
	}, nil
}

// UploadPhoto implements PhotoStore. publicID makes a retried upload for the
// same side overwrite the earlier attempt.
func (s *CloudinaryService) UploadPhoto(ctx context.Context, content io.Reader, folder, publicID string) (string, error) {
	fileBytes, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	if len(fileBytes) == 0 {
		return "", fmt.Errorf("%w: photo is empty", ErrInvalidInput)
	}

	overwrite := true
	uploadResult, err := s.cld.Upload.Upload(ctx, fileBytes, uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		Overwrite:    &overwrite,
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if uploadResult.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected upload: %s", uploadResult.Error.Message)
	}

	return uploadResult.SecureURL, nil
}
