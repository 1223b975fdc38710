package gateway

import "html/template"

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.BotName}}</title>
<style>
body { font-family: sans-serif; max-width: 32rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
.state { padding: .5rem 1rem; border-radius: .5rem; background: #fdecea; }
.state.ok { background: #e6f4ea; }
.code { font-size: 2rem; letter-spacing: .3rem; font-family: monospace; }
img.qr { width: 264px; height: 264px; image-rendering: pixelated; }
img.avatar { width: 96px; height: 96px; border-radius: 50%; object-fit: cover; }
a.button { display: inline-block; margin-right: .5rem; padding: .5rem 1rem; background: #128c7e; color: #fff; text-decoration: none; border-radius: .3rem; }
</style>
</head>
<body>
{{if .ProfilePic}}<img class="avatar" src="/assets/profile.jpg{{if .Token}}?token={{.Token}}{{end}}" alt="">{{end}}
<h1>{{.BotName}}</h1>
<p>Created by {{.Creator}}</p>
{{if .Connected}}
<p class="state ok">✅ Connected</p>
{{else}}
<p class="state">❌ Not connected ({{.State}})</p>
{{if .QRCode}}
<p>Scan this QR code from WhatsApp, Linked devices:</p>
<img class="qr" src="{{.QRCode}}" alt="pairing QR code">
<p>Pairing code: <span class="code">{{.PairingCode}}</span></p>
{{if .LinkCode}}<p>Phone link code: <span class="code">{{.LinkCode}}</span></p>{{end}}
{{end}}
{{end}}
<p>
<a class="button" href="/pair{{if .Token}}?token={{.Token}}{{end}}">Get QR code</a>
<a class="button" href="/status{{if .Token}}?token={{.Token}}{{end}}">Status</a>
<a class="button" href="/restart{{if .Token}}?token={{.Token}}{{end}}">Restart</a>
</p>
</body>
</html>
`))
