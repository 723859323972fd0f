package email

import (
	"bytes"
	"html/template"
	"time"
)

var (
	verificationTmpl = template.Must(template.New("verification").Parse(`<p>Hi {{.Name}},</p>
<p>Welcome to FitTrack. Confirm your email address by opening the link below:</p>
<p><a href="{{.Link}}">Verify my email</a></p>
<p>Or enter this code in the app: <strong>{{.Code}}</strong></p>
<p>The link and the code expire at {{.ExpiresAt}} UTC.</p>`))

	otpTmpl = template.Must(template.New("otp").Parse(`<p>Hi {{.Name}},</p>
<p>We received a request to reset your FitTrack password.</p>
<p>Your one-time code is <strong>{{.Code}}</strong>. It expires at {{.ExpiresAt}} UTC.</p>
<p>If you did not ask for this, you can ignore this email.</p>`))

	resetLinkTmpl = template.Must(template.New("reset").Parse(`<p>Hi {{.Name}},</p>
<p>Reset your FitTrack password with the link below:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>Or enter this code in the app: <strong>{{.Code}}</strong></p>
<p>The link and the code expire at {{.ExpiresAt}} UTC.</p>`))
)

type templateData struct {
	Name      string
	Link      string
	Code      string
	ExpiresAt string
}

// VerificationMessage arma el correo de verificación con enlace y código.
func VerificationMessage(to, name, link, code string, expiresAt time.Time) (Message, error) {
	return render(verificationTmpl, to, "Verify your FitTrack account", templateData{
		Name: name, Link: link, Code: code, ExpiresAt: formatExpiry(expiresAt),
	})
}

// PasswordResetOTPMessage arma el correo con el OTP de reset.
func PasswordResetOTPMessage(to, name, code string, expiresAt time.Time) (Message, error) {
	return render(otpTmpl, to, "Your FitTrack password reset code", templateData{
		Name: name, Code: code, ExpiresAt: formatExpiry(expiresAt),
	})
}

// PasswordResetLinkMessage arma el correo del flujo de reset por token.
func PasswordResetLinkMessage(to, name, link, code string, expiresAt time.Time) (Message, error) {
	return render(resetLinkTmpl, to, "Reset your FitTrack password", templateData{
		Name: name, Link: link, Code: code, ExpiresAt: formatExpiry(expiresAt),
	})
}

func render(tmpl *template.Template, to, subject string, data templateData) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, HTMLBody: buf.String()}, nil
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
