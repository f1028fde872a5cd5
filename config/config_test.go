package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils"

	"go.viam.com/anchormap/densemap"
	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/mapstore"
	"go.viam.com/anchormap/rimage/transform"
	"go.viam.com/anchormap/testutils"
)

const fullConfig = `{
	"dense_mapping": {
		"dir": "${RECORDINGS_DIR}",
		"map_name": "warehouse",
		"frame_skip": 3,
		"confidence_threshold": 0.25,
		"include_color": false,
		"voxel_size": 0.02,
		"upload_dir": "/tmp/uploads"
	},
	"cloud_anchor": {"timeout": "30s", "ttl_days": 7},
	"map_store": {"backend": "sqlite", "path": "maps.db"},
	"log": {"level": "warn"}
}`

func TestRead(t *testing.T) {
	t.Setenv("RECORDINGS_DIR", "/data/recordings")
	path := testutils.WriteTempFile(t, "config.json", []byte(fullConfig))

	cfg, err := Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.DenseMapping.Dir, test.ShouldEqual, "/data/recordings")
	test.That(t, cfg.CloudAnchor.Timeout, test.ShouldEqual, utils.Duration(30*time.Second))
	test.That(t, cfg.MapStore, test.ShouldResemble, mapstore.Config{Backend: mapstore.BackendSQLite, Path: "maps.db"})
	test.That(t, cfg.Log.Level, test.ShouldEqual, logging.WARN)

	sessionCfg := cfg.DenseMapping.SessionConfig()
	test.That(t, sessionCfg.MapName, test.ShouldEqual, "warehouse")
	test.That(t, sessionCfg.FrameSkip, test.ShouldEqual, 3)
	test.That(t, sessionCfg.VoxelSize, test.ShouldEqual, 0.02)
	test.That(t, sessionCfg.Projection, test.ShouldResemble, transform.ProjectionConfig{
		ConfidenceThreshold: 0.25,
		SubsampleFactor:     1,
		IncludeColor:        false,
		MedianFilter:        true,
		MedianKernelSize:    7,
	})
	test.That(t, cfg.DenseMapping.Uploader(), test.ShouldResemble, densemap.DirUploader{Dir: "/tmp/uploads"})

	opts := cfg.CloudAnchor.RegistryOptions(nil)
	test.That(t, opts.Timeout, test.ShouldEqual, 30*time.Second)
	test.That(t, opts.TTLDays, test.ShouldEqual, 7)
}

func TestDefaults(t *testing.T) {
	cfg, err := FromReader("", strings.NewReader(`{"dense_mapping": {"dir": "rec"}}`), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.DenseMapping.Projection(), test.ShouldResemble, transform.DefaultProjectionConfig())
	test.That(t, cfg.DenseMapping.Uploader(), test.ShouldBeNil)
	test.That(t, cfg.Log.Level, test.ShouldEqual, logging.INFO)
	test.That(t, cfg.CloudAnchor.RegistryOptions(nil).Timeout, test.ShouldEqual, time.Duration(0))
}

func TestFromReaderErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, tc := range []struct {
		name     string
		config   string
		expected string
	}{
		{"malformed", `{"dense_mapping":`, "cannot parse config"},
		{"unknown field", `{"dense_mapping": {"dir": "rec"}, "robot": {}}`, "unknown field"},
		{"missing dir", `{}`, `"dir" is required`},
		{"bad threshold", `{"dense_mapping": {"dir": "rec", "confidence_threshold": 1.5}}`, "confidence_threshold"},
		{"even kernel", `{"dense_mapping": {"dir": "rec", "median_kernel_size": 4}}`, "median_kernel_size"},
		{"bad ttl", `{"dense_mapping": {"dir": "rec"}, "cloud_anchor": {"ttl_days": 400}}`, "ttl_days"},
		{"bad backend", `{"dense_mapping": {"dir": "rec"}, "map_store": {"backend": "redis"}}`, `unknown backend "redis"`},
		{"mongo needs uri", `{"dense_mapping": {"dir": "rec"}, "map_store": {"backend": "mongo"}}`, `"uri" is required`},
		{"bad level", `{"dense_mapping": {"dir": "rec"}, "log": {"level": "loud"}}`, "unknown log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader("test.json", strings.NewReader(tc.config), logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expected)
		})
	}
}

func TestLogConfigNewLogger(t *testing.T) {
	cfg := LogConfig{Level: logging.ERROR}
	logger, closer := cfg.NewLogger("test")
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.ERROR)
	test.That(t, closer.Close(), test.ShouldBeNil)

	cfg.File = filepath.Join(t.TempDir(), "anchormap.log")
	logger, closer = cfg.NewLogger("test")
	logger.Error("written to file")
	test.That(t, closer.Close(), test.ShouldBeNil)
	//nolint:gosec
	data, err := os.ReadFile(cfg.File)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "written to file")
}
