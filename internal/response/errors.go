package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	ErrEntryPassword ErrCode = "ENTRY_PASSWORD_INVALID"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrSessionExpired  ErrCode = "SESSION_EXPIRED"
	ErrDeviceMismatch  ErrCode = "DEVICE_MISMATCH"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrSessionInvalid  ErrCode = "SESSION_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptNotFound   ErrCode = "ATTEMPT_NOT_FOUND"
	ErrPermissionMissing ErrCode = "PERMISSION_MISSING"
	ErrSubmitFailed      ErrCode = "SUBMIT_FAILED"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."
	case ErrEntryPassword:
		return "Kata sandi ujian salah."

	case ErrSessionExpired:
		return "Sesi ujian Anda telah berakhir. Silakan verifikasi kata sandi kembali."
	case ErrDeviceMismatch:
		return "Sesi ujian terikat pada perangkat lain. Silakan verifikasi kata sandi kembali."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan. Silakan verifikasi kata sandi kembali."
	case ErrSessionInvalid:
		return "Sesi ujian tidak valid. Silakan verifikasi kata sandi kembali."

	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrAttemptNotFound:
		return "Sesi pengerjaan ujian tidak ditemukan."
	case ErrPermissionMissing:
		return "Izin kamera, berbagi layar, atau layar penuh belum lengkap."
	case ErrSubmitFailed:
		return "Pengumpulan ujian gagal. Jawaban Anda tersimpan, silakan coba lagi."

	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
