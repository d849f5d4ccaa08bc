package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Proxy History API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; height: 100vh; display: flex; flex-direction: column; background: #0d1117; }
    header {
      flex: 0 0 40px;
      display: flex;
      align-items: center;
      gap: 20px;
      padding: 0 20px;
      background: #161b22;
      border-bottom: 1px solid #30363d;
      font: 500 13px -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
      color: #e6edf3;
    }
    header a { color: #58a6ff; text-decoration: none; }
    header .spacer { flex: 1; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <header>
    <span>Proxy History</span>
    <span class="spacer"></span>
    <a href="/docs/events">Live Event Docs →</a>
    <a href="/openapi.json">openapi.json</a>
  </header>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
