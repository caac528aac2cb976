package processor

import (
	"context"
	"fmt"
	"os"

	"montage/internal/pkg/errors"
	"montage/internal/ports"
)

// Publisher verifies the render artifact and moves it into storage.
type Publisher struct {
	sp ports.StorageProvider
}

func NewPublisher(sp ports.StorageProvider) *Publisher {
	return &Publisher{sp: sp}
}

// OutputKey is where a job's artifact lives in storage.
func OutputKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/output.mp4", jobID)
}

// Publish uploads the artifact and returns its object key. An engine
// that exited cleanly but left no artifact, or an empty one, is a render
// failure.
func (p *Publisher) Publish(ctx context.Context, jobID, artifactPath string) (string, error) {
	st, err := os.Stat(artifactPath)
	if err != nil {
		return "", errors.RenderFailure("render produced no artifact")
	}
	if st.Size() == 0 {
		return "", errors.RenderFailure("render produced an empty artifact")
	}

	f, err := os.Open(artifactPath)
	if err != nil {
		return "", errors.Wrap(err, "publish", "could not open artifact")
	}
	defer f.Close()

	out, err := p.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   OutputKey(jobID),
		ContentType: "video/mp4",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", errors.Wrap(err, "publish", "could not store artifact")
	}
	return out.ObjectKey, nil
}
