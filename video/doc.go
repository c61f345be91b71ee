/*
Package video 把推理结果中的有序帧还原为图片序列并封装成视频。

流程：

	DecodeFrames → WriteFrames(frame_01.jpg, frame_02.jpg, …) → Encoder.Encode → Transcoder.Transcode(可选)

内置两种编码器：

  - MJPEGEncoder：纯 Go 的 Motion JPEG AVI 封装，无外部依赖，输出确定
  - FFmpegEncoder：调用 ffmpeg 生成 H.264 MP4

视频时长总是 帧数 / fps，转码只改变编码参数。
*/
package video
