package handlers

const uploadForm = `<!doctype html>
<title>Image Classification Using ResNet50</title>
<h1>Image Classification</h1>
<h3>Upload an image</h3>
<strong>Note:</strong> the result is returned as JSON.
<form method=post enctype=multipart/form-data>
  <p><input type=file name=file>
     <input type=submit value="Predict">
</form>
`
