package main

import (
	"embed"
	"html/template"

	"github.com/gofiber/fiber/v2"
)

//go:embed docs/openapi.json
var openAPIFS embed.FS

func swaggerJSONHandler(c *fiber.Ctx) error {
	data, err := openAPIFS.ReadFile("docs/openapi.json")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "openapi not found"})
	}
	c.Type("json")
	return c.Send(data)
}

func swaggerUIHandler(c *fiber.Ctx) error {
	const tpl = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8"/>
    <title>COS API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/api/v1/docs/openapi.json',
        dom_id: '#swagger-ui',
        presets: [SwaggerUIBundle.presets.apis],
        layout: 'BaseLayout'
      });
    </script>
  </body>
 </html>`
	t := template.Must(template.New("swagger").Parse(tpl))
	c.Type("html")
	return t.Execute(c, nil)
}
