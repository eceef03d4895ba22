package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"poi-server/services"
)

func newTestImportHandler() *ImportHandler {
	geocoder := services.NewGeocodeService(services.NewMemoryGeocodeCache())
	store := services.NewStoreService(services.NewMemoryKVStore())
	kml := services.NewKMLService(services.NewExtractService(nil))
	return NewImportHandler(services.NewImportService(store, services.NewMemoryStaging(), geocoder, kml))
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/admin/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadParsesKML(t *testing.T) {
	kml := `<kml><Document><Folder>
		<name>Parks</name>
		<Placemark><name>Green</name><Point><coordinates>-73.9857,40.7484</coordinates></Point></Placemark>
	</Folder></Document></kml>`

	rec := httptest.NewRecorder()
	newTestImportHandler().UploadImport(rec, multipartUpload(t, "map.kml", []byte(kml)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"total":1`) || !strings.Contains(body, "pois_by_category") {
		t.Errorf("unexpected import result: %s", body)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestImportHandler().UploadImport(rec, multipartUpload(t, "notes.txt", []byte("not a map")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VALIDATION_ERROR") {
		t.Errorf("body = %s, want VALIDATION_ERROR", rec.Body.String())
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	big := bytes.Repeat([]byte("x"), maxUploadBytes+1)
	rec := httptest.NewRecorder()
	newTestImportHandler().UploadImport(rec, multipartUpload(t, "big.kml", big))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "FILE_ERROR") {
		t.Errorf("body = %s, want FILE_ERROR", rec.Body.String())
	}
}
