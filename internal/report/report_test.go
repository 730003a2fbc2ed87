package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mender/internal/metrics"
	"github.com/mesh-intelligence/mender/pkg/types"
)

func sampleReport() Report {
	start := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return Report{
		Kind:       types.KindCheck,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Tasks: []types.TaskOutcome{
			{Name: "edges", Kind: types.KindCheck, OK: true},
			{Name: "linking", Kind: types.KindCheck, OK: false, Error: "boom"},
		},
		Steps: []metrics.StepRecord{{Task: "edges", Step: "tombstoned_ids", Rows: 4}},
	}
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, nil
}

type failingSink struct{}

func (failingSink) Write(context.Context, Report) error { return errors.New("unavailable") }

func TestReportOK(t *testing.T) {
	r := sampleReport()
	assert.False(t, r.OK())
	r.Tasks = r.Tasks[:1]
	assert.True(t, r.OK())
}

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "last.json")
	require.NoError(t, FileSink{Path: path}.Write(context.Background(), sampleReport()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, types.KindCheck, got.Kind)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "boom", got.Tasks[1].Error)
	assert.Equal(t, int64(4), got.Steps[0].Rows)
}

func TestS3SinkUploadsUnderPrefix(t *testing.T) {
	fake := &fakeS3{}
	sink := &S3Sink{client: fake, bucket: "reports", prefix: "mender/prod"}

	require.NoError(t, sink.Write(context.Background(), sampleReport()))
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "reports", aws.ToString(in.Bucket))
	assert.Equal(t, "mender/prod/check-20260304T050607Z.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, int64(len(fake.bodies[0])), aws.ToInt64(in.ContentLength))
	assert.True(t, bytes.Contains(fake.bodies[0], []byte(`"tombstoned_ids"`)))
}

func TestS3SinkKeyWithoutPrefix(t *testing.T) {
	sink := &S3Sink{bucket: "b"}
	r := sampleReport()
	r.Kind = types.KindUpgrade
	assert.Equal(t, "upgrade-20260304T050607Z.json", sink.Key(r))
}

func TestS3SinkError(t *testing.T) {
	sink := &S3Sink{client: &fakeS3{err: errors.New("denied")}, bucket: "b"}
	err := sink.Write(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/check-")
}

func TestMultiSinkSwallowsFailures(t *testing.T) {
	fake := &fakeS3{}
	m := MultiSink{Sinks: []Sink{failingSink{}, &S3Sink{client: fake, bucket: "b"}}}
	assert.NoError(t, m.Write(context.Background(), sampleReport()))
	assert.Len(t, fake.inputs, 1, "sinks after a failure still run")
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(context.Background(), types.ReportConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, m.Sinks)

	m, err = FromConfig(context.Background(), types.ReportConfig{
		File: filepath.Join(t.TempDir(), "r.json"),
		S3: types.S3ReportConfig{
			Bucket:          "reports",
			Region:          "eu-west-1",
			Endpoint:        "http://127.0.0.1:9000",
			PathStyle:       true,
			AccessKeyID:     "minio",
			SecretAccessKey: "minio123",
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, m.Sinks, 2)
	assert.IsType(t, FileSink{}, m.Sinks[0])
	assert.IsType(t, &S3Sink{}, m.Sinks[1])
}
