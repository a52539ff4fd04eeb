package render

import "html/template"

var modelTemplate = template.Must(template.New("model").Parse(`
<div class="arcen_model_detail_container" style="display:flex; gap:1em;">
  <div style="flex:1; min-width:300px;">
    <h2>{{.Title}} (ID: {{.ID}})</h2>
    <div>Type: {{.Type}}</div>
    {{- if .Tags}}
    <div>Tags: {{.Tags}}</div>
    {{- end}}
    <div>Uploader: {{.Uploader}}</div>
    <div class="model_description">{{.Description}}</div>

    <h3>Gallery</h3>
    <div class="arcen_model_gallery">
    {{- range .Gallery}}
      <div class="arcen_gallery_item" data-image-id="{{.ID}}" style="cursor:pointer;">
        {{- if .ThumbURL}}
        <img src="{{.ThumbURL}}" alt="gallery item" style="max-width:100px;"/>
        {{- end}}
      </div>
    {{- else}}
      <div>No gallery images found.</div>
    {{- end}}
    </div>

    <h3>Versions</h3>
    {{- range .Versions}}
    <div class="version_block" style="margin-bottom:1em; border:1px solid #444; padding:0.5em">
      <b>Version ID:</b> {{.ID}} | <b>Name:</b> {{.Name}}<br/>
      <b>Base Model:</b> {{.BaseModel}}<br/>
      {{- if .Triggers}}
      <b>Trigger Words:</b> {{.Triggers}}<br/>
      {{- end}}
      {{- if .About}}
      <div><b>Notes:</b> {{.About}}</div>
      {{- end}}
      <a href="{{.DownloadURL}}" target="_blank" class="arcen_extension_download_btn" style="margin-top:0.5em;">Download (Browser)</a>
      <button class="arcen_extension_download_btn"
        data-model-id="{{$.ID}}"
        data-version-id="{{.ID}}"
        data-model-type="{{$.Type}}"
        data-download-url="{{.DownloadURL}}"
        data-file-name="{{.FileName}}"
        style="margin-top:0.5em;">Download with Extension</button>
    </div>
    {{- else}}
    <div>No versions found for this model.</div>
    {{- end}}
  </div>
  <div style="flex:1; min-width:300px;" id="arcen_image_details_panel">
    <div style="padding:0.5em; border:1px solid #444;"><i>Select an image to see details here.</i></div>
  </div>
</div>
`))

var imageTemplate = template.Must(template.New("image").Parse(`
<div style="padding:1em;">
  <h3>Image ID: {{.ID}}</h3>
  <div style="display:flex; gap:1em;">
    <div style="flex:1; min-width:200px;">
      {{- if .FullURL}}
      <img src="{{.FullURL}}" style="max-width:100%; border:1px solid #444;"/>
      {{- end}}
    </div>
    <div style="flex:1; min-width:200px;">
      <div><b>Prompt:</b><br/>{{.Prompt}}</div>
      <div style="margin-top:0.5em;"><b>Negative Prompt:</b><br/>{{.NegativePrompt}}</div>
      <div style="margin-top:0.5em;"><b>Sampler:</b> {{.Sampler}}</div>
      <div style="margin-top:0.5em;"><b>Seed:</b> {{.Seed}}</div>
      <div style="margin-top:0.5em;"><b>Steps:</b> {{.Steps}}</div>
      <div style="margin-top:0.5em;"><b>CFG:</b> {{.CFG}}</div>
    </div>
  </div>
</div>
`))
