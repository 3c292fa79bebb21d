package validate

import "github.com/gabriel-vasile/mimetype"

// signatures lists the detected types accepted for each extension, on top of
// the extension mimetype itself associates with the detected type.
var signatures = map[string][]string{
	".pdf":  {"application/pdf"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".zip":  {"application/zip"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
	".odt":  {"application/vnd.oasis.opendocument.text", "application/zip"},
	".ods":  {"application/vnd.oasis.opendocument.spreadsheet", "application/zip"},
	".doc":  {"application/msword", "application/x-ole-storage"},
	".xls":  {"application/vnd.ms-excel", "application/x-ole-storage"},
	".txt":  {"text/plain"},
	".csv":  {"text/csv", "text/plain"},
	".xml":  {"text/xml", "application/xml"},
}

// signatureMatches walks the detected type and its parents looking for a
// type compatible with ext.
func signatureMatches(ext string, header []byte) bool {
	accepted := signatures[ext]
	for m := mimetype.Detect(header); m != nil; m = m.Parent() {
		if m.Extension() == ext {
			return true
		}
		for _, want := range accepted {
			if m.Is(want) {
				return true
			}
		}
	}
	return false
}
