package constants

// ReportState tracks central reporting for a journaled verdict.
type ReportState string

// Stable values (store these exact strings in DB).
const (
	ReportPending ReportState = "PENDING" // not yet delivered
	ReportSent    ReportState = "SENT"
	ReportFailed  ReportState = "FAILED" // terminal, retries exhausted or rejected
)

// UploadState tracks delivery of a spooled evidence photo.
type UploadState string

const (
	UploadPending  UploadState = "PENDING"
	UploadUploaded UploadState = "UPLOADED"
	UploadFailed   UploadState = "FAILED" // terminal
)

// PhotoKind identifies the camera position a photo came from.
type PhotoKind string

const (
	PhotoReader      PhotoKind = "READER"
	PhotoCam1        PhotoKind = "CAM_1"
	PhotoCam2        PhotoKind = "CAM_2"
	PhotoWrappedCam1 PhotoKind = "WRAPPED_CAM_1"
	PhotoWrappedCam2 PhotoKind = "WRAPPED_CAM_2"
)

// KnownPhotoKind reports whether k is one of the wire-stable photo kinds.
func KnownPhotoKind(k PhotoKind) bool {
	switch k {
	case PhotoReader, PhotoCam1, PhotoCam2, PhotoWrappedCam1, PhotoWrappedCam2:
		return true
	}
	return false
}
