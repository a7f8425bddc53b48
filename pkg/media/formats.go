package media

// AudioFormats lists the audio file extensions recognized in enclosure URLs.
// Order matters: extensions are matched by substring against the URL.
var AudioFormats = []string{".mp3", ".wav", ".m4a", ".flac"}

// ImageFormats lists the image file extensions recognized in cover art URLs.
var ImageFormats = []string{".webp", ".png", ".jpg", ".jpeg", ".gif"}

var contentTypes = map[string]string{
	".webp": "image/webp",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mpeg",
	".flac": "audio/flac",
}

// ContentType returns the MIME type for a known media extension.
func ContentType(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
