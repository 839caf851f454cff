package protocol

import "path"

// extension -> content type, anything else is served as text/plain
var mimeTypes = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".mp4":   "video/mp4",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
	".ico":   "image/x-icon",
}

// ContentType maps a target to its content type by extension.
func ContentType(target string) string {
	if ct, ok := mimeTypes[path.Ext(target)]; ok {
		return ct
	}
	return "text/plain"
}
