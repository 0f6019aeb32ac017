package responder

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/endorses/paper/internal/pkg/constants"
)

// Route labels used in logs and metrics.
const (
	RouteImage    = "image"
	RouteRegister = "register"
	RouteCheck    = "check_version"
	RouteReport   = "report"
	RouteNotFound = "not_found"
)

const (
	jsonContentType = constants.JSONContentType
	notFoundBody    = "File Not Found"
)

type router struct {
	config      Config
	checkPath   string
	reportPath  string
	imageHeader string
}

type routeResult struct {
	route  string
	status int
	sent   int64
	err    error
}

func newRouter(config Config) *router {
	return &router{
		config:      config,
		checkPath:   config.OTAURL + constants.UpdateCheckMarker,
		reportPath:  config.OTAURL + constants.UpdateReportSuffix,
		imageHeader: fmt.Sprintf("attachment; filename=%q", constants.ImageFileName),
	}
}

// match returns the route label for req, checking image, registration,
// check-version and report in that order.
func (rt *router) match(req *Request) string {
	switch {
	case strings.HasPrefix(req.Path, rt.config.ImageRoute):
		return RouteImage
	case len(req.Path) > len(rt.config.RegisterRoute) && strings.HasPrefix(req.Path, rt.config.RegisterRoute):
		return RouteRegister
	case req.Path == rt.checkPath && req.Method == "POST":
		return RouteCheck
	case req.Path == rt.reportPath && req.Method == "POST":
		return RouteReport
	default:
		return RouteNotFound
	}
}

func (rt *router) serve(w io.Writer, req *Request, log *slog.Logger) routeResult {
	route := rt.match(req)
	switch route {
	case RouteImage:
		log.Info("Serving image file", "range", req.Header("Range"))
		return rt.serveImage(w, req, log)
	case RouteRegister:
		log.Info("Serving registration data")
		return writeSimple(w, route, 200, jsonContentType, []byte(rt.config.RegisterPayload))
	case RouteCheck:
		log.Info("Serving OTA descriptor")
		return writeSimple(w, route, 200, jsonContentType, rt.config.OTAPayload)
	case RouteReport:
		log.Info("Device reported download result", "body", req.Body)
		return writeSimple(w, route, 200, jsonContentType, []byte(ReportPayload))
	default:
		log.Info("Request not found", "method", req.Method, "path", req.Path)
		return writeSimple(w, route, 404, "text/plain", []byte(notFoundBody))
	}
}

func writeSimple(w io.Writer, route string, status int, contentType string, body []byte) routeResult {
	res := NewResponse(status)
	res.SetHeader("Content-Type", contentType)
	res.SetBody(body)
	_, err := w.Write(res.Bytes())
	result := routeResult{route: route, status: status, err: err}
	if err == nil {
		result.sent = int64(len(body))
	}
	return result
}

// serveImage streams the image, or the requested range of it, in
// ChunkSize writes after a separate header write.
func (rt *router) serveImage(w io.Writer, req *Request, log *slog.Logger) routeResult {
	result := routeResult{route: RouteImage}

	f, err := os.Open(rt.config.ImagePath)
	if err != nil {
		log.Error("Failed to open image", "error", err, "path", rt.config.ImagePath)
		return writeSimple(w, RouteNotFound, 404, "text/plain", []byte(notFoundBody))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Error("Failed to stat image", "error", err, "path", rt.config.ImagePath)
		return writeSimple(w, RouteNotFound, 404, "text/plain", []byte(notFoundBody))
	}
	size := info.Size()

	res := NewResponse(200)
	start, end := int64(0), size-1
	if rangeValue := req.Header("Range"); rangeValue != "" && size > 0 {
		start, end = ParseRange(rangeValue, size)
		res.StatusCode = 206
		res.SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	length := end - start + 1

	res.SetHeader("Content-Type", "application/octet-stream")
	res.SetHeader("Content-Disposition", rt.imageHeader)
	res.SetHeader("Content-Length", strconv.FormatInt(length, 10))
	result.status = res.StatusCode

	log.Debug("Sending image headers", "status", res.StatusCode, "start", start, "end", end, "size", size)
	if _, err := w.Write(res.HeaderBytes()); err != nil {
		result.err = fmt.Errorf("send headers: %w", err)
		return result
	}

	buf := make([]byte, rt.config.ChunkSize)
	section := io.NewSectionReader(f, start, length)
	for result.sent < length {
		n, readErr := section.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				result.err = fmt.Errorf("send image data at offset %d: %w", start+result.sent, err)
				return result
			}
			result.sent += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			result.err = fmt.Errorf("read image: %w", readErr)
			return result
		}
	}

	log.Info("Sent image file", "start", start, "end", end, "bytes", result.sent)
	return result
}
