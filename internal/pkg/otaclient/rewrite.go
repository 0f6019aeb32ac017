package otaclient

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/endorses/paper/internal/pkg/digest"
	"github.com/endorses/paper/internal/pkg/logger"
)

// Rewrite points the descriptor at deltaURL and replaces the size and
// digest fields of data.version with values computed from imagePath:
// fileSize, md5sum, sha (SHA-1), and every segmentMd5 entry. segmentMd5 may
// be an array or a string holding a JSON array; the original shape is kept.
// Segment ranges are half-open [startpos, endpos) and are clamped to the
// image size.
func Rewrite(d *Descriptor, imagePath, deltaURL string) error {
	version, err := d.version()
	if err != nil {
		return err
	}

	info, err := os.Stat(imagePath)
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	size := info.Size()

	logger.Info("Calculating full file MD5", "path", imagePath, "size", size)
	md5sum, err := digest.MD5File(imagePath)
	if err != nil {
		return err
	}
	sha, err := digest.SHA1File(imagePath)
	if err != nil {
		return err
	}

	version["deltaUrl"] = deltaURL
	version["fileSize"] = json.Number(strconv.FormatInt(size, 10))
	version["md5sum"] = md5sum
	version["sha"] = sha

	if raw, ok := version["segmentMd5"]; ok {
		updated, err := rewriteSegments(raw, imagePath, size)
		if err != nil {
			return err
		}
		version["segmentMd5"] = updated
	}

	logger.Debug("Descriptor rewritten", "delta_url", deltaURL, "md5", md5sum, "sha1", sha, "size", size)
	return nil
}

func rewriteSegments(raw any, imagePath string, size int64) (any, error) {
	switch v := raw.(type) {
	case string:
		var segments []map[string]any
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&segments); err != nil {
			return nil, fmt.Errorf("parse segmentMd5: %w", err)
		}
		if err := hashSegments(segments, imagePath, size); err != nil {
			return nil, err
		}
		out, err := json.Marshal(segments)
		if err != nil {
			return nil, fmt.Errorf("encode segmentMd5: %w", err)
		}
		return string(out), nil
	case []any:
		segments := make([]map[string]any, 0, len(v))
		for _, item := range v {
			seg, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("segmentMd5 entry is %T, want object", item)
			}
			segments = append(segments, seg)
		}
		if err := hashSegments(segments, imagePath, size); err != nil {
			return nil, err
		}
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("segmentMd5 is %T, want array or string", raw)
	}
}

func hashSegments(segments []map[string]any, imagePath string, size int64) error {
	for i, seg := range segments {
		start, err := int64Field(seg, "startpos")
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		end, err := int64Field(seg, "endpos")
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if end > size {
			end = size
		}
		if start > end {
			start = end
		}
		sum, err := digest.MD5FileSegment(imagePath, start, end)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		seg["md5"] = sum
		seg["startpos"] = json.Number(strconv.FormatInt(start, 10))
		seg["endpos"] = json.Number(strconv.FormatInt(end, 10))
	}
	return nil
}

func int64Field(m map[string]any, key string) (int64, error) {
	switch v := m[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s missing", key)
	}
}
